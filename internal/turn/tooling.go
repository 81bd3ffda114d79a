package turn

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dndcreator/promethea-gateway/internal/agent"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// ToolInvoker is the surface the Turn Engine needs from the Tool Service
// (internal/tools.Registry implements this). Kept as a narrow interface
// here so internal/turn does not import internal/tools, which in turn
// keeps the tool catalogue free to depend on turn-level types if it ever
// needs to.
type ToolInvoker interface {
	// Definitions returns the tool catalogue to advertise to the LLM for
	// this request (name, description, schema) — the registry's
	// per-user policy can narrow this per call.
	Definitions() []agent.Tool

	// RequiresConfirmation reports whether toolName is on the
	// confirmation list for this user/session under the current
	// ConfigSnapshot.
	RequiresConfirmation(userID, sessionID, toolName string) bool

	// Invoke runs toolName with args, enforcing its timeout and argument
	// schema. It returns the tool's textual result or an *apperr.Error
	// with Kind one of ToolDenied/ToolTimeout/ToolRuntime/InvalidArguments.
	Invoke(ctx context.Context, userID, sessionID, toolName string, args json.RawMessage) (string, error)
}

// ConfirmationStore persists PendingConfirmation records across the
// suspend/resume boundary — the work item is not held by a worker while
// awaiting the user's decision, so this state must outlive the goroutine
// that created it.
type ConfirmationStore interface {
	Put(ctx context.Context, pending *models.PendingConfirmation) error
	Get(ctx context.Context, callID string) (*models.PendingConfirmation, error)
	Delete(ctx context.Context, callID string) error
}

// DefaultConfirmationTTL matches spec.md §4.F: expiry behaves as reject.
const DefaultConfirmationTTL = 300 * time.Second

// memoryConfirmationStore is the in-process ConfirmationStore used when no
// durable implementation is configured; PendingConfirmation.ResumeState is
// only ever read back within the same process, so this is sufficient for
// a single-node deployment.
type memoryConfirmationStore struct {
	mu      sync.Mutex
	pending map[string]*models.PendingConfirmation
}

// NewMemoryConfirmationStore constructs an in-process ConfirmationStore.
func NewMemoryConfirmationStore() ConfirmationStore {
	return &memoryConfirmationStore{
		pending: map[string]*models.PendingConfirmation{},
	}
}

func (s *memoryConfirmationStore) Put(ctx context.Context, pending *models.PendingConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[pending.CallID] = pending
	return nil
}

func (s *memoryConfirmationStore) Get(ctx context.Context, callID string) (*models.PendingConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[callID]
	if !ok {
		return nil, errConfirmationNotFound(callID)
	}
	return p, nil
}

func (s *memoryConfirmationStore) Delete(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, callID)
	return nil
}
