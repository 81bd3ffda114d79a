package models

import "time"

// TransportKind identifies the transport a connection arrived over.
type TransportKind string

const (
	TransportSSE       TransportKind = "sse"
	TransportWebSocket TransportKind = "websocket"
)

// ConnectionBinding ties a live transport connection to an authenticated
// identity. Its lifetime is bound to the transport's lifetime.
type ConnectionBinding struct {
	ConnectionID string        `json:"connection_id"`
	UserID       string        `json:"user_id,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	Transport    TransportKind `json:"transport_kind"`
	BoundAt      time.Time     `json:"bound_at"`
}
