// Package bus implements the gateway's typed publish/subscribe fabric.
//
// Subscribers are registered per models.EventType. emit delivers the event
// to every subscriber registered at emission time and returns once delivery
// has been scheduled, not once handlers have run — handlers execute on
// their own goroutine, fed by a bounded per-subscriber mailbox. A handler
// that panics or returns an error is isolated: the error is logged and the
// sibling handlers are unaffected. There is no persistence; events lost on
// crash are lost.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// Handler processes one event. Errors are logged, never propagated.
type Handler func(ctx context.Context, event models.Event) error

// DefaultMailboxSize bounds the number of pending events per subscriber
// before the oldest is dropped to keep the emitter from blocking.
const DefaultMailboxSize = 64

// Bus is a process-local event bus. The zero value is not usable; build
// one with New.
type Bus struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[models.EventType][]*subscriber

	mailboxSize int

	dropped atomic.Int64
}

type subscriber struct {
	id      int
	handler Handler
	mailbox chan models.Event

	mu      sync.Mutex
	dropped atomic.Int64
}

// New constructs a Bus. mailboxSize <= 0 uses DefaultMailboxSize.
func New(logger *slog.Logger, mailboxSize int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	return &Bus{
		logger:      logger,
		subscribers: map[models.EventType][]*subscriber{},
		mailboxSize: mailboxSize,
	}
}

// Subscribe registers an asynchronous handler for eventType. Delivery order
// to this subscriber follows emission order; across subscribers, delivery
// follows registration order. The returned context governs the handler's
// background goroutine and should usually be the runtime's root context.
func (b *Bus) Subscribe(ctx context.Context, eventType models.EventType, handler Handler) {
	b.mu.Lock()
	subs := b.subscribers[eventType]
	sub := &subscriber{
		id:      len(subs),
		handler: handler,
		mailbox: make(chan models.Event, b.mailboxSize),
	}
	b.subscribers[eventType] = append(subs, sub)
	b.mu.Unlock()

	go b.drain(ctx, eventType, sub)
}

func (b *Bus) drain(ctx context.Context, eventType models.EventType, sub *subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.mailbox:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error("event handler panicked",
							"event_type", eventType, "panic", r)
					}
				}()
				if err := sub.handler(ctx, event); err != nil {
					b.logger.Warn("event handler failed",
						"event_type", eventType, "error", err)
				}
			}()
		}
	}
}

// Emit delivers payload wrapped as a models.Event to every subscriber of
// eventType currently registered. It never blocks on a slow subscriber: if
// a subscriber's mailbox is full, the oldest pending event for that
// subscriber is dropped and a counter is incremented (exposed via
// DroppedCount / doctor diagnostics). Emit returns once delivery has been
// scheduled to every subscriber's mailbox, not once handlers complete.
func (b *Bus) Emit(eventType models.EventType, payload any, correlationID string) {
	event := models.Event{
		Type:          eventType,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}

	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subscribers[eventType]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, event)
	}
}

// deliver enqueues event onto sub's mailbox, dropping the oldest pending
// event for that subscriber on overflow so the emitter never blocks.
func (b *Bus) deliver(sub *subscriber, event models.Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	select {
	case sub.mailbox <- event:
		return
	default:
	}

	// Mailbox full: drop the oldest queued event, then enqueue the new one.
	select {
	case <-sub.mailbox:
		sub.dropped.Add(1)
		b.dropped.Add(1)
	default:
	}
	select {
	case sub.mailbox <- event:
	default:
		// Another producer raced us and refilled the mailbox; drop this
		// event rather than block the emitter.
		sub.dropped.Add(1)
		b.dropped.Add(1)
	}
}

// DroppedCount returns the total number of events dropped across all
// subscribers due to mailbox overflow.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Load()
}
