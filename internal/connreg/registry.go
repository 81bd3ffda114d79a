// Package connreg tracks live transport connections (SSE response writers,
// websocket control-plane sockets) and the user/session identity bound to
// each, so the turn engine can push frames to a connection by id without
// knowing which transport owns it.
package connreg

import (
	"sync"
	"time"

	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// Frame is an opaque outbound payload; transports serialize it however fits
// (SSE writes it as a JSON line, the websocket control plane wraps it in
// its own envelope).
type Frame any

// Sender pushes a frame to one bound connection. Each transport registers a
// Sender when it accepts a connection.
type Sender interface {
	Send(frame Frame) error
	Close() error
}

type entry struct {
	binding models.ConnectionBinding
	sender  Sender

	mu sync.Mutex // serializes sends per connection
}

// Registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]*entry
	byUser      map[string]map[string]struct{} // user_id -> set of connection_id
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byID:   map[string]*entry{},
		byUser: map[string]map[string]struct{}{},
	}
}

// Bind registers a new connection and its identity. Binding the same
// connection id twice replaces the previous entry.
func (r *Registry) Bind(connectionID string, transport models.TransportKind, userID, sessionID string, sender Sender) models.ConnectionBinding {
	binding := models.ConnectionBinding{
		ConnectionID: connectionID,
		UserID:       userID,
		SessionID:    sessionID,
		Transport:    transport,
		BoundAt:      time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[connectionID] = &entry{binding: binding, sender: sender}
	if userID != "" {
		set, ok := r.byUser[userID]
		if !ok {
			set = map[string]struct{}{}
			r.byUser[userID] = set
		}
		set[connectionID] = struct{}{}
	}
	return binding
}

// Unbind removes a connection. It is idempotent: unbinding an unknown or
// already-removed connection id is a no-op.
func (r *Registry) Unbind(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[connectionID]
	if !ok {
		return
	}
	delete(r.byID, connectionID)
	if e.binding.UserID != "" {
		if set, ok := r.byUser[e.binding.UserID]; ok {
			delete(set, connectionID)
			if len(set) == 0 {
				delete(r.byUser, e.binding.UserID)
			}
		}
	}
}

// Send delivers frame to one connection. Sends to a single connection are
// serialized so interleaved writers can't corrupt the transport's framing.
func (r *Registry) Send(connectionID string, frame Frame) error {
	r.mu.RLock()
	e, ok := r.byID[connectionID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotBound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sender.Send(frame)
}

// Broadcast delivers frame to every connection currently bound to userID.
// Failures on individual connections are swallowed; Broadcast is a
// best-effort fan-out, matching the turn engine's "not every client is
// still listening" reality after a reconnect.
func (r *Registry) Broadcast(userID string, frame Frame) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		_ = r.Send(id, frame)
	}
}

// Lookup returns the binding for a connection id, if bound.
func (r *Registry) Lookup(connectionID string) (models.ConnectionBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[connectionID]
	if !ok {
		return models.ConnectionBinding{}, false
	}
	return e.binding, true
}

// Count returns the number of currently bound connections, for diagnostics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
