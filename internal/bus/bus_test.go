package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dndcreator/promethea-gateway/pkg/models"
)

func TestEmitDeliversInOrder(t *testing.T) {
	b := New(nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []int

	done := make(chan struct{})
	count := 0
	b.Subscribe(ctx, models.EventConversationStreamText, func(_ context.Context, e models.Event) error {
		mu.Lock()
		seen = append(seen, e.Payload.(int))
		count++
		if count == 5 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		b.Emit(models.EventConversationStreamText, i, "")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		if v != i {
			t.Fatalf("delivery order broken: seen=%v", seen)
		}
	}
}

func TestHandlerErrorIsolated(t *testing.T) {
	b := New(nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var secondRan atomic32
	done := make(chan struct{})

	b.Subscribe(ctx, models.EventConversationError, func(_ context.Context, _ models.Event) error {
		return errors.New("boom")
	})
	b.Subscribe(ctx, models.EventConversationError, func(_ context.Context, _ models.Event) error {
		secondRan.set()
		close(done)
		return nil
	})

	b.Emit(models.EventConversationError, nil, "")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second subscriber never ran after first subscriber errored")
	}
	if !secondRan.get() {
		t.Fatal("expected second subscriber to run")
	}
}

func TestMailboxOverflowDropsOldest(t *testing.T) {
	b := New(nil, 2)
	// No subscriber draining: mailbox fills and overflows immediately.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	b.Subscribe(ctx, models.EventMemorySaved, func(_ context.Context, _ models.Event) error {
		<-block // first delivery blocks the drain goroutine so the mailbox backs up
		return nil
	})

	for i := 0; i < 10; i++ {
		b.Emit(models.EventMemorySaved, i, "")
	}
	close(block)

	if b.DroppedCount() == 0 {
		t.Fatal("expected at least one dropped event on overflow")
	}
}

type atomic32 struct {
	mu sync.Mutex
	v  bool
}

func (a *atomic32) set()      { a.mu.Lock(); a.v = true; a.mu.Unlock() }
func (a *atomic32) get() bool { a.mu.Lock(); defer a.mu.Unlock(); return a.v }
