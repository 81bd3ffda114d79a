package httpapi

import (
	"sync"

	"github.com/dndcreator/promethea-gateway/internal/connreg"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// eventCollector is the non-streaming counterpart to sseSender: used when a
// caller posts {"stream": false}, it buffers every event instead of writing
// SSE frames, so the handler can return one JSON object once the turn
// reaches a terminal state.
type eventCollector struct {
	mu      sync.Mutex
	once    sync.Once
	done    chan struct{}
	events  []models.Event
	final   string
	failure error
}

func newEventCollector() *eventCollector {
	return &eventCollector{done: make(chan struct{})}
}

func (c *eventCollector) Send(frame connreg.Frame) error {
	event, ok := frame.(models.Event)
	if !ok {
		return nil
	}

	c.mu.Lock()
	c.events = append(c.events, event)
	switch event.Type {
	case models.EventConversationComplete:
		if payload, ok := event.Payload.(map[string]string); ok {
			c.final = payload["text"]
		}
	case models.EventConversationError:
		if payload, ok := event.Payload.(map[string]string); ok {
			c.failure = &collectedError{message: payload["error"]}
		}
	}
	c.mu.Unlock()

	if isTerminal(event) {
		c.once.Do(func() { close(c.done) })
	}
	return nil
}

func (c *eventCollector) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *eventCollector) Wait() <-chan struct{} {
	return c.done
}

type collectedError struct{ message string }

func (e *collectedError) Error() string { return e.message }
