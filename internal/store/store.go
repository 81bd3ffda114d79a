// Package store persists users, auth tokens, sessions, and messages scoped
// to exactly one user each. Every session/message operation is scoped by
// user_id: a session owned by another user is indistinguishable from one
// that doesn't exist, and both resolve to apperr.NotFound.
package store

import (
	"context"

	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// ListOptions configures ListSessions. Results are always returned sorted
// by UpdatedAt descending.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store is the persistence boundary for the User & Session Store component.
// Implementations: MemoryStore (in-process, testing/dev) and FileStore
// (per-user JSON files under a base directory, atomic-rename writes).
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	CreateAuthToken(ctx context.Context, token *models.AuthToken) error
	GetAuthToken(ctx context.Context, token string) (*models.AuthToken, error)
	DeleteAuthToken(ctx context.Context, token string) error

	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error)
	ListSessions(ctx context.Context, userID string, opts ListOptions) ([]*models.Session, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// NextTurnIndex allocates the next monotonic turn index for a session.
	// Callers must hold no assumption about starting value beyond it being
	// strictly increasing per session.
	NextTurnIndex(ctx context.Context, userID, sessionID string) (int64, error)

	// AppendMessages writes msgs atomically: either all are durable or none
	// are, and a session's UpdatedAt is bumped to the last message's
	// CreatedAt as part of the same operation.
	AppendMessages(ctx context.Context, userID, sessionID string, msgs []*models.Message) error
	GetHistory(ctx context.Context, userID, sessionID string, limit int) ([]*models.Message, error)

	// BeginTurn opens a turn transaction for sessionID, failing with
	// apperr.Busy if a turn is already open for that session (at most one
	// open turn per session, system-wide). Exactly one of CommitTurn or
	// AbortTurn must be called for every successful BeginTurn.
	BeginTurn(ctx context.Context, userID, sessionID string) (*TurnHandle, error)

	// CommitTurn durably appends messages produced during the turn and
	// closes it. messages may be empty (e.g. a turn that produced only a
	// rejected tool call with no assistant reply).
	CommitTurn(ctx context.Context, handle *TurnHandle, messages []*models.Message) error

	// AbortTurn closes the turn without persisting any of its messages.
	AbortTurn(ctx context.Context, handle *TurnHandle) error
}

// TurnHandle is the opaque token F holds while a turn is open; it carries
// the turn index allocated at BeginTurn so committed messages can be
// stamped with it.
type TurnHandle struct {
	UserID    string
	SessionID string
	TurnIndex int64
}
