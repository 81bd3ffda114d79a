package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dndcreator/promethea-gateway/internal/apperr"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// FileStore persists users, tokens, sessions, and messages as per-user JSON
// files under BaseDir, following the layout:
//
//	<base>/users/<user_id>.json
//	<base>/users_by_username/<username>.json   -> {"user_id": "..."}
//	<base>/tokens/<token>.json
//	<base>/sessions/<user_id>/<session_id>.json
//	<base>/messages/<user_id>/<session_id>.json
//	<base>/turn_index/<user_id>/<session_id>
//
// Every write goes through writeAtomic: data is written to a temp file in
// the destination directory, then os.Rename'd into place, so a reader never
// observes a partially written file. A single process-wide mutex serializes
// writes; FileStore is meant for single-process local/dev deployments, not
// concurrent multi-process access.
type FileStore struct {
	mu      sync.Mutex
	baseDir string

	// openTurns tracks in-flight turns in memory only — a process crash
	// mid-turn abandons it anyway, so there is nothing useful to persist.
	openTurns map[string]bool
}

// NewFileStore creates a FileStore rooted at baseDir, creating it if absent.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create store base dir", err)
	}
	return &FileStore{baseDir: baseDir, openTurns: map[string]bool{}}, nil
}

func (f *FileStore) usersDir() string          { return filepath.Join(f.baseDir, "users") }
func (f *FileStore) usersByUsernameDir() string { return filepath.Join(f.baseDir, "users_by_username") }
func (f *FileStore) tokensDir() string          { return filepath.Join(f.baseDir, "tokens") }
func (f *FileStore) sessionsDir(userID string) string {
	return filepath.Join(f.baseDir, "sessions", userID)
}
func (f *FileStore) messagesDir(userID string) string {
	return filepath.Join(f.baseDir, "messages", userID)
}
func (f *FileStore) turnIndexDir(userID string) string {
	return filepath.Join(f.baseDir, "turn_index", userID)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (f *FileStore) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return apperr.New(apperr.InvalidArguments, "user is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if user.Username != "" {
		if _, err := os.Stat(filepath.Join(f.usersByUsernameDir(), user.Username+".json")); err == nil {
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
	data, err := json.Marshal(&clone)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal user", err)
	}
	if err := writeAtomic(filepath.Join(f.usersDir(), clone.ID+".json"), data); err != nil {
		return apperr.Wrap(apperr.Internal, "write user", err)
	}
	if clone.Username != "" {
		ref, _ := json.Marshal(map[string]string{"user_id": clone.ID})
		if err := writeAtomic(filepath.Join(f.usersByUsernameDir(), clone.Username+".json"), ref); err != nil {
			return apperr.Wrap(apperr.Internal, "write username index", err)
		}
	}
	user.ID = clone.ID
	user.CreatedAt = clone.CreatedAt
	return nil
}

func (f *FileStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := readJSON(filepath.Join(f.usersDir(), id+".json"), &user); err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.NotFound, "user not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "read user", err)
	}
	return &user, nil
}

func (f *FileStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var ref struct {
		UserID string `json:"user_id"`
	}
	if err := readJSON(filepath.Join(f.usersByUsernameDir(), username+".json"), &ref); err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.NotFound, "user not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "read username index", err)
	}
	return f.GetUser(ctx, ref.UserID)
}

func (f *FileStore) CreateAuthToken(ctx context.Context, token *models.AuthToken) error {
	if token == nil || token.Token == "" {
		return apperr.New(apperr.InvalidArguments, "token is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := *token
	if clone.IssuedAt.IsZero() {
		clone.IssuedAt = time.Now()
	}
	data, err := json.Marshal(&clone)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal token", err)
	}
	if err := writeAtomic(filepath.Join(f.tokensDir(), tokenFileName(clone.Token)), data); err != nil {
		return apperr.Wrap(apperr.Internal, "write token", err)
	}
	return nil
}

func (f *FileStore) GetAuthToken(ctx context.Context, token string) (*models.AuthToken, error) {
	var t models.AuthToken
	if err := readJSON(filepath.Join(f.tokensDir(), tokenFileName(token)), &t); err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.NotFound, "token not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "read token", err)
	}
	return &t, nil
}

func (f *FileStore) DeleteAuthToken(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(filepath.Join(f.tokensDir(), tokenFileName(token)))
	if err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.Internal, "delete token", err)
	}
	return nil
}

// tokenFileName replaces path separators so a token value can never escape
// the tokens directory.
func tokenFileName(token string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(token)
	return safe + ".json"
}

func (f *FileStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.UserID == "" {
		return apperr.New(apperr.InvalidArguments, "session with user_id is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := *session
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	if err := f.writeSession(&clone); err != nil {
		return err
	}
	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.UpdatedAt = clone.UpdatedAt
	return nil
}

func (f *FileStore) writeSession(session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal session", err)
	}
	path := filepath.Join(f.sessionsDir(session.UserID), session.ID+".json")
	if err := writeAtomic(path, data); err != nil {
		return apperr.Wrap(apperr.Internal, "write session", err)
	}
	return nil
}

func (f *FileStore) GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	var session models.Session
	path := filepath.Join(f.sessionsDir(userID), sessionID+".json")
	if err := readJSON(path, &session); err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.NotFound, "session not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "read session", err)
	}
	if session.UserID != userID {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}
	return &session, nil
}

func (f *FileStore) ListSessions(ctx context.Context, userID string, opts ListOptions) ([]*models.Session, error) {
	entries, err := os.ReadDir(f.sessionsDir(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Session{}, nil
		}
		return nil, apperr.Wrap(apperr.Internal, "list sessions", err)
	}

	var out []*models.Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var session models.Session
		path := filepath.Join(f.sessionsDir(userID), entry.Name())
		if err := readJSON(path, &session); err != nil {
			continue
		}
		out = append(out, &session)
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

func (f *FileStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.GetSession(ctx, userID, sessionID); err != nil {
		return err
	}
	os.Remove(filepath.Join(f.sessionsDir(userID), sessionID+".json"))
	os.Remove(filepath.Join(f.messagesDir(userID), sessionID+".json"))
	os.Remove(filepath.Join(f.turnIndexDir(userID), sessionID))
	return nil
}

func (f *FileStore) NextTurnIndex(ctx context.Context, userID, sessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.GetSession(ctx, userID, sessionID); err != nil {
		return 0, err
	}
	path := filepath.Join(f.turnIndexDir(userID), sessionID)
	var next int64
	if data, err := os.ReadFile(path); err == nil {
		next, _ = strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	} else if !os.IsNotExist(err) {
		return 0, apperr.Wrap(apperr.Internal, "read turn index", err)
	}
	if err := writeAtomic(path, []byte(strconv.FormatInt(next+1, 10))); err != nil {
		return 0, apperr.Wrap(apperr.Internal, "write turn index", err)
	}
	return next, nil
}

func (f *FileStore) BeginTurn(ctx context.Context, userID, sessionID string) (*TurnHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if f.openTurns[sessionID] {
		return nil, apperr.New(apperr.Busy, "turn already open for session")
	}

	path := filepath.Join(f.turnIndexDir(userID), sessionID)
	var next int64
	if data, err := os.ReadFile(path); err == nil {
		next, _ = strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	} else if !os.IsNotExist(err) {
		return nil, apperr.Wrap(apperr.Internal, "read turn index", err)
	}
	if err := writeAtomic(path, []byte(strconv.FormatInt(next+1, 10))); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "write turn index", err)
	}
	f.openTurns[sessionID] = true
	return &TurnHandle{UserID: userID, SessionID: sessionID, TurnIndex: next}, nil
}

func (f *FileStore) CommitTurn(ctx context.Context, handle *TurnHandle, messages []*models.Message) error {
	if handle == nil {
		return apperr.New(apperr.InvalidArguments, "handle is required")
	}
	if err := f.closeTurn(handle); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	for _, msg := range messages {
		msg.TurnIndex = handle.TurnIndex
	}
	return f.AppendMessages(ctx, handle.UserID, handle.SessionID, messages)
}

func (f *FileStore) AbortTurn(ctx context.Context, handle *TurnHandle) error {
	if handle == nil {
		return apperr.New(apperr.InvalidArguments, "handle is required")
	}
	return f.closeTurn(handle)
}

func (f *FileStore) closeTurn(handle *TurnHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.openTurns[handle.SessionID] {
		return apperr.New(apperr.InvalidArguments, "no open turn for session")
	}
	delete(f.openTurns, handle.SessionID)
	return nil
}

func (f *FileStore) loadMessages(userID, sessionID string) ([]*models.Message, error) {
	var messages []*models.Message
	path := filepath.Join(f.messagesDir(userID), sessionID+".json")
	if err := readJSON(path, &messages); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.Internal, "read messages", err)
	}
	return messages, nil
}

func (f *FileStore) AppendMessages(ctx context.Context, userID, sessionID string, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	session, err := f.GetSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	existing, err := f.loadMessages(userID, sessionID)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, msg := range msgs {
		clone := *msg
		if clone.ID == "" {
			clone.ID = uuid.NewString()
		}
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = now
		}
		existing = append(existing, &clone)
	}
	if excess := len(existing) - maxMessagesPerSession; excess > 0 {
		existing = existing[excess:]
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal messages", err)
	}
	if err := writeAtomic(filepath.Join(f.messagesDir(userID), sessionID+".json"), data); err != nil {
		return apperr.Wrap(apperr.Internal, "write messages", err)
	}

	session.UpdatedAt = existing[len(existing)-1].CreatedAt
	return f.writeSession(session)
}

func (f *FileStore) GetHistory(ctx context.Context, userID, sessionID string, limit int) ([]*models.Message, error) {
	if _, err := f.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	messages, err := f.loadMessages(userID, sessionID)
	if err != nil {
		return nil, err
	}
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	return messages[start:], nil
}
