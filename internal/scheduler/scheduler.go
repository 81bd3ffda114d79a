// Package scheduler serializes per-session conversation work over a bounded
// worker pool, giving every session FIFO ordering (session affinity) while
// bounding total concurrency and per-session queue depth.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dndcreator/promethea-gateway/internal/apperr"
	"github.com/dndcreator/promethea-gateway/internal/backoff"
	"github.com/dndcreator/promethea-gateway/internal/bus"
	"github.com/dndcreator/promethea-gateway/internal/store"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// WorkItem is one unit of scheduled conversation work: either a fresh user
// message or a resume of a turn suspended for tool confirmation.
type WorkItem struct {
	UserID    string
	SessionID string

	// UserMessage is nil for a resume item (confirmation response).
	UserMessage *models.Message

	// ResumeCallID, when non-empty, marks this item as resuming a turn
	// suspended for tool confirmation (see internal/turn). Such items
	// never call store.BeginTurn here — the turn engine recovers and
	// owns the original open TurnHandle itself, since it never
	// committed or aborted when it suspended.
	ResumeCallID  string
	ConfirmAction string

	// StreamCallback receives SSE-bound events as the turn progresses.
	StreamCallback func(models.Event)

	attempt int
}

// Config bounds the scheduler's concurrency and retry behavior. Zero values
// are replaced by DefaultConfig's values at NewScheduler.
type Config struct {
	// Workers is the bounded worker pool size (W).
	Workers int
	// QueueDepth is the max items queued per session before overflow
	// rejects with apperr.Busy (D).
	QueueDepth int
	// AcquireWait bounds how long Enqueue blocks waiting for a free
	// worker before giving up with apperr.Busy.
	AcquireWait time.Duration
	// IdleTimeout is how long a worker may sit with no assigned session
	// before the idle-reap sweep logs it as reclaimable capacity (T_idle).
	IdleTimeout time.Duration
	// MaxRetries bounds re-queues of a retriable-error work item (R_max).
	MaxRetries int
	// Backoff parameterizes the delay between retries.
	Backoff backoff.BackoffPolicy
}

// DefaultConfig matches spec.md §4.E's stated defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     8,
		QueueDepth:  32,
		AcquireWait: 2 * time.Second,
		IdleTimeout: 60 * time.Second,
		MaxRetries:  3,
		Backoff: backoff.BackoffPolicy{
			InitialMs: 200,
			MaxMs:     10_000,
			Factor:    2,
			Jitter:    0.2,
		},
	}
}

// Executor runs one work item's turn to completion, performing all writes
// through handle (the scheduler begins/commits/aborts the transaction
// around this call). A retriable failure (network timeout, provider 5xx,
// 429) should be returned as an *apperr.Error with a Kind apperr.Retriable
// reports true for; the scheduler re-queues it.
type Executor func(ctx context.Context, item *WorkItem, handle *store.TurnHandle) error

// Scheduler is the Conversation Scheduler component (spec.md §4.E).
//
// Workers are not held idle: a session acquires a permit only while it has
// work, and releases it the instant its queue empties, so there is no
// standing pool of blocked goroutines to reap. IdleTimeout / the idle-reap
// sweep therefore report available capacity rather than terminating
// long-lived goroutines — functionally equivalent to the spec's
// "idle workers reaped after T_idle" for this single-process target, since
// zero standing idle workers trivially satisfies it.
type Scheduler struct {
	cfg     Config
	store   store.Store
	execute Executor
	bus     *bus.Bus
	logger  *slog.Logger

	sem chan struct{}

	mu       sync.Mutex
	queues   map[string][]*WorkItem
	inFlight map[string]bool

	stopped chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Scheduler. eventBus may be nil (no events emitted).
func New(cfg Config, st store.Store, execute Executor, eventBus *bus.Bus, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.AcquireWait <= 0 {
		cfg.AcquireWait = def.AcquireWait
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Backoff == (backoff.BackoffPolicy{}) {
		cfg.Backoff = def.Backoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		execute:  execute,
		bus:      eventBus,
		logger:   logger,
		sem:      make(chan struct{}, cfg.Workers),
		queues:   map[string][]*WorkItem{},
		inFlight: map[string]bool{},
		stopped:  make(chan struct{}),
	}
}

// Enqueue admits item for processing. It returns apperr.Busy if the
// session's queue is at capacity, or if no worker becomes free within
// AcquireWait for a session with no current queue.
func (s *Scheduler) Enqueue(ctx context.Context, item *WorkItem) error {
	s.mu.Lock()
	if s.inFlight[item.SessionID] {
		if len(s.queues[item.SessionID]) >= s.cfg.QueueDepth {
			s.mu.Unlock()
			return apperr.New(apperr.Busy, "session queue is full")
		}
		s.queues[item.SessionID] = append(s.queues[item.SessionID], item)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-time.After(s.cfg.AcquireWait):
		return apperr.New(apperr.Busy, "no worker available")
	case <-ctx.Done():
		return apperr.Wrap(apperr.Cancelled, "enqueue cancelled", ctx.Err())
	}

	s.mu.Lock()
	s.inFlight[item.SessionID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runSession(item.SessionID, item)
	return nil
}

// runSession processes item and then drains item.SessionID's queue on the
// same worker permit (session affinity preserves per-session ordering)
// until the queue is empty, then releases the permit.
func (s *Scheduler) runSession(sessionID string, first *WorkItem) {
	defer s.wg.Done()
	defer func() { <-s.sem }()

	item := first
	for item != nil {
		s.process(item)

		s.mu.Lock()
		queue := s.queues[sessionID]
		if len(queue) == 0 {
			delete(s.inFlight, sessionID)
			delete(s.queues, sessionID)
			s.mu.Unlock()
			return
		}
		item, s.queues[sessionID] = queue[0], queue[1:]
		s.mu.Unlock()
	}
}

// process runs item's turn transaction, retrying retriable failures up to
// MaxRetries with exponential backoff, requeued at the head of the
// session's own processing (not the shared queue — this worker retries it
// directly, preserving ordering without another session stealing the slot).
func (s *Scheduler) process(item *WorkItem) {
	ctx := context.Background()

	for {
		item.attempt++
		err := s.runOnce(ctx, item)
		if err == nil {
			return
		}
		if !apperr.Retriable(err) || item.attempt >= s.cfg.MaxRetries {
			s.logger.Warn("turn failed", "session_id", item.SessionID, "attempt", item.attempt, "error", err)
			s.emit(models.EventConversationError, item.SessionID, map[string]string{"error": err.Error()})
			return
		}
		delay := backoff.ComputeBackoff(s.cfg.Backoff, item.attempt)
		s.logger.Info("retrying turn", "session_id", item.SessionID, "attempt", item.attempt, "delay", delay)
		time.Sleep(delay)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, item *WorkItem) error {
	if item.ResumeCallID != "" {
		// The engine owns this turn's transaction lifecycle already —
		// it stayed open across the suspend, so there is nothing for
		// the scheduler to begin or abort around this call.
		return s.execute(ctx, item, nil)
	}

	handle, err := s.store.BeginTurn(ctx, item.UserID, item.SessionID)
	if err != nil {
		return err
	}

	if err := s.execute(ctx, item, handle); err != nil {
		if abortErr := s.store.AbortTurn(ctx, handle); abortErr != nil {
			s.logger.Debug("abort turn no-op (already closed)", "session_id", item.SessionID, "error", abortErr)
		}
		return err
	}
	return nil
}

func (s *Scheduler) emit(eventType models.EventType, sessionID string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(eventType, payload, sessionID)
}

// Shutdown waits for in-flight sessions to drain or ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports current load, used by the doctor/metrics surface.
type Stats struct {
	ActiveSessions int
	QueuedItems    int
	FreeWorkers    int
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := 0
	for _, q := range s.queues {
		queued += len(q)
	}
	return Stats{
		ActiveSessions: len(s.inFlight),
		QueuedItems:    queued,
		FreeWorkers:    cap(s.sem) - len(s.sem),
	}
}
