package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dndcreator/promethea-gateway/internal/apperr"
	"github.com/dndcreator/promethea-gateway/internal/bus"
	"github.com/dndcreator/promethea-gateway/internal/store"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

func newTestStore(t *testing.T, userID, sessionID string) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateUser(ctx, &models.User{ID: userID, Username: userID}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := s.CreateSession(ctx, &models.Session{ID: sessionID, UserID: userID}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSchedulerRunsSingleItem(t *testing.T) {
	st := newTestStore(t, "u1", "s1")
	var ran atomic.Bool
	execute := func(ctx context.Context, item *WorkItem, handle *store.TurnHandle) error {
		ran.Store(true)
		return nil
	}
	sched := New(DefaultConfig(), st, execute, nil, nil)

	err := sched.Enqueue(context.Background(), &WorkItem{UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, time.Second, ran.Load)

	if err := sched.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	stats := sched.Stats()
	if stats.ActiveSessions != 0 || stats.QueuedItems != 0 {
		t.Fatalf("expected drained scheduler, got %+v", stats)
	}
}

func TestSchedulerPreservesSessionOrdering(t *testing.T) {
	st := newTestStore(t, "u1", "s1")
	var mu sync.Mutex
	var order []int

	execute := func(ctx context.Context, item *WorkItem, handle *store.TurnHandle) error {
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		order = append(order, item.attempt)
		mu.Unlock()
		return nil
	}
	sched := New(DefaultConfig(), st, execute, nil, nil)

	for i := 0; i < 5; i++ {
		item := &WorkItem{UserID: "u1", SessionID: "s1"}
		item.attempt = i // reused as an identity tag for ordering assertions
		if err := sched.Enqueue(context.Background(), item); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		// attempt is incremented once by process() before execute runs, so
		// the first item's tag (0) becomes 1, etc.
		if v != i+1 {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestSchedulerRejectsBusyQueue(t *testing.T) {
	st := newTestStore(t, "u1", "s1")
	release := make(chan struct{})
	execute := func(ctx context.Context, item *WorkItem, handle *store.TurnHandle) error {
		<-release
		return nil
	}
	cfg := DefaultConfig()
	cfg.QueueDepth = 1
	sched := New(cfg, st, execute, nil, nil)
	defer close(release)

	if err := sched.Enqueue(context.Background(), &WorkItem{UserID: "u1", SessionID: "s1"}); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return sched.Stats().ActiveSessions == 1 })

	if err := sched.Enqueue(context.Background(), &WorkItem{UserID: "u1", SessionID: "s1"}); err != nil {
		t.Fatalf("second Enqueue() error = %v", err)
	}
	err := sched.Enqueue(context.Background(), &WorkItem{UserID: "u1", SessionID: "s1"})
	if !apperr.Is(err, apperr.Busy) {
		t.Fatalf("expected Busy once queue depth exceeded, got %v", err)
	}
}

func TestSchedulerRetriesRetriableErrorThenSucceeds(t *testing.T) {
	st := newTestStore(t, "u1", "s1")
	var attempts atomic.Int32
	execute := func(ctx context.Context, item *WorkItem, handle *store.TurnHandle) error {
		n := attempts.Add(1)
		if n < 2 {
			return apperr.New(apperr.UpstreamUnavailable, "provider timeout")
		}
		return nil
	}
	cfg := DefaultConfig()
	cfg.Backoff.InitialMs = 1
	cfg.Backoff.MaxMs = 2
	sched := New(cfg, st, execute, nil, nil)

	if err := sched.Enqueue(context.Background(), &WorkItem{UserID: "u1", SessionID: "s1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return attempts.Load() == 2 })

	if err := sched.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestSchedulerGivesUpAfterMaxRetriesAndEmitsError(t *testing.T) {
	st := newTestStore(t, "u1", "s1")
	execute := func(ctx context.Context, item *WorkItem, handle *store.TurnHandle) error {
		return apperr.New(apperr.UpstreamUnavailable, "always fails")
	}
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.Backoff.InitialMs = 1
	cfg.Backoff.MaxMs = 2

	var gotError atomic.Bool
	b := bus.New(nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Subscribe(ctx, models.EventConversationError, func(_ context.Context, _ models.Event) error {
		gotError.Store(true)
		return nil
	})
	sched := New(cfg, st, execute, b, nil)

	if err := sched.Enqueue(context.Background(), &WorkItem{UserID: "u1", SessionID: "s1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, time.Second, gotError.Load)
}

func TestSchedulerAbortsTurnOnNonRetriableError(t *testing.T) {
	st := newTestStore(t, "u1", "s1")
	execute := func(ctx context.Context, item *WorkItem, handle *store.TurnHandle) error {
		return apperr.New(apperr.InvalidArguments, "bad request")
	}
	sched := New(DefaultConfig(), st, execute, nil, nil)

	if err := sched.Enqueue(context.Background(), &WorkItem{UserID: "u1", SessionID: "s1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := sched.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	// The aborted turn must not have left an open turn behind; a fresh
	// BeginTurn should succeed immediately.
	handle, err := st.BeginTurn(context.Background(), "u1", "s1")
	if err != nil {
		t.Fatalf("BeginTurn() after abort error = %v", err)
	}
	if err := st.AbortTurn(context.Background(), handle); err != nil {
		t.Fatalf("AbortTurn() error = %v", err)
	}
}
