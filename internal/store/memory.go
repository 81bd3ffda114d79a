package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dndcreator/promethea-gateway/internal/apperr"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// maxMessagesPerSession bounds in-memory message growth per session; the
// oldest messages are trimmed once the limit is exceeded.
const maxMessagesPerSession = 1000

// MemoryStore is an in-process Store implementation for local runs and
// tests. All reads and writes clone their payload so callers can never
// observe or corrupt another caller's copy.
type MemoryStore struct {
	mu sync.RWMutex

	usersByID       map[string]*models.User
	usersByUsername map[string]string // username -> id

	tokens map[string]*models.AuthToken

	sessions  map[string]*models.Session // sessionID -> session
	turnIndex map[string]int64           // sessionID -> next turn index
	openTurns map[string]bool            // sessionID -> has an open turn
	messages  map[string][]*models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		usersByID:       map[string]*models.User{},
		usersByUsername: map[string]string{},
		tokens:          map[string]*models.AuthToken{},
		openTurns:       map[string]bool{},
		sessions:        map[string]*models.Session{},
		turnIndex:       map[string]int64{},
		messages:        map[string][]*models.Message{},
	}
}

func (m *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return apperr.New(apperr.InvalidArguments, "user is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.Username != "" {
		if _, exists := m.usersByUsername[user.Username]; exists {
			return apperr.New(apperr.InvalidArguments, "username already taken")
		}
	}
	clone := *user
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	user.ID = clone.ID
	user.CreatedAt = clone.CreatedAt
	m.usersByID[clone.ID] = &clone
	if clone.Username != "" {
		m.usersByUsername[clone.Username] = clone.ID
	}
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.usersByID[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	clone := *user
	return &clone, nil
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usersByUsername[username]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	user := m.usersByID[id]
	clone := *user
	return &clone, nil
}

func (m *MemoryStore) CreateAuthToken(ctx context.Context, token *models.AuthToken) error {
	if token == nil || token.Token == "" {
		return apperr.New(apperr.InvalidArguments, "token is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *token
	if clone.IssuedAt.IsZero() {
		clone.IssuedAt = time.Now()
	}
	m.tokens[clone.Token] = &clone
	return nil
}

func (m *MemoryStore) GetAuthToken(ctx context.Context, token string) (*models.AuthToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[token]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "token not found")
	}
	clone := *t
	return &clone, nil
}

func (m *MemoryStore) DeleteAuthToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.UserID == "" {
		return apperr.New(apperr.InvalidArguments, "session with user_id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.UpdatedAt = clone.UpdatedAt
	m.sessions[clone.ID] = clone
	return nil
}

// GetSession returns apperr.NotFound both when the session doesn't exist
// and when it exists but is owned by a different user: the caller must not
// be able to distinguish "absent" from "not yours".
func (m *MemoryStore) GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, userID string, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, session := range m.sessions {
		if session.UserID != userID {
			continue
		}
		out = append(out, cloneSession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(out) {
		return []*models.Session{}, nil
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return out[start:end], nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		return apperr.New(apperr.NotFound, "session not found")
	}
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	delete(m.turnIndex, sessionID)
	return nil
}

func (m *MemoryStore) NextTurnIndex(ctx context.Context, userID, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		return 0, apperr.New(apperr.NotFound, "session not found")
	}
	next := m.turnIndex[sessionID]
	m.turnIndex[sessionID] = next + 1
	return next, nil
}

func (m *MemoryStore) BeginTurn(ctx context.Context, userID, sessionID string) (*TurnHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}
	if m.openTurns[sessionID] {
		return nil, apperr.New(apperr.Busy, "turn already open for session")
	}
	index := m.turnIndex[sessionID]
	m.turnIndex[sessionID] = index + 1
	m.openTurns[sessionID] = true
	return &TurnHandle{UserID: userID, SessionID: sessionID, TurnIndex: index}, nil
}

func (m *MemoryStore) CommitTurn(ctx context.Context, handle *TurnHandle, messages []*models.Message) error {
	if handle == nil {
		return apperr.New(apperr.InvalidArguments, "handle is required")
	}
	if err := m.closeTurn(handle); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	for _, msg := range messages {
		msg.TurnIndex = handle.TurnIndex
	}
	return m.AppendMessages(ctx, handle.UserID, handle.SessionID, messages)
}

func (m *MemoryStore) AbortTurn(ctx context.Context, handle *TurnHandle) error {
	if handle == nil {
		return apperr.New(apperr.InvalidArguments, "handle is required")
	}
	return m.closeTurn(handle)
}

func (m *MemoryStore) closeTurn(handle *TurnHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.openTurns[handle.SessionID] {
		return apperr.New(apperr.InvalidArguments, "no open turn for session")
	}
	delete(m.openTurns, handle.SessionID)
	return nil
}

func (m *MemoryStore) AppendMessages(ctx context.Context, userID, sessionID string, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		return apperr.New(apperr.NotFound, "session not found")
	}

	now := time.Now()
	cloned := make([]*models.Message, 0, len(msgs))
	for _, msg := range msgs {
		clone := cloneMessage(msg)
		if clone.ID == "" {
			clone.ID = uuid.NewString()
		}
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = now
		}
		cloned = append(cloned, clone)
	}
	m.messages[sessionID] = append(m.messages[sessionID], cloned...)
	if excess := len(m.messages[sessionID]) - maxMessagesPerSession; excess > 0 {
		m.messages[sessionID] = m.messages[sessionID][excess:]
	}
	session.UpdatedAt = cloned[len(cloned)-1].CreatedAt
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, userID, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}

	messages := m.messages[sessionID]
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := make([]*models.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func cloneSession(session *models.Session) *models.Session {
	clone := *session
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	clone := *msg
	if msg.Metadata != nil {
		clone.Metadata = deepCloneMap(msg.Metadata)
	}
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ToolCall{}, msg.ToolCalls...)
	}
	return &clone
}

func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = deepCloneValue(v)
	}
	return clone
}

func deepCloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCloneMap(val)
	case []any:
		cloned := make([]any, len(val))
		for i, item := range val {
			cloned[i] = deepCloneValue(item)
		}
		return cloned
	case []string:
		cloned := make([]string, len(val))
		copy(cloned, val)
		return cloned
	default:
		return v
	}
}
