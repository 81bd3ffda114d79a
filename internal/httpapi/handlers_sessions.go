package httpapi

import (
	"net/http"

	"github.com/dndcreator/promethea-gateway/internal/apperr"
	"github.com/dndcreator/promethea-gateway/internal/auth"
	"github.com/dndcreator/promethea-gateway/internal/store"
)

// sessionSummary matches spec.md §6.3's GET /api/sessions list shape.
type sessionSummary struct {
	SessionID    string `json:"session_id"`
	LastMessage  string `json:"last_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	MessageCount int    `json:"message_count"`
}

// messageView matches GET /api/sessions/{id}'s {messages:[{role,content}]} shape.
type messageView struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthorized, "authentication required"))
		return
	}

	sessions, err := s.deps.Store.ListSessions(r.Context(), user.ID, store.ListOptions{})
	if err != nil {
		writeError(w, err)
		return
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		history, err := s.deps.Store.GetHistory(r.Context(), user.ID, sess.ID, 0)
		if err != nil {
			writeError(w, err)
			return
		}
		summary := sessionSummary{
			SessionID:    sess.ID,
			CreatedAt:    sess.CreatedAt.Format(timeFormat),
			MessageCount: len(history),
		}
		if len(history) > 0 {
			summary.LastMessage = history[len(history)-1].Content
		}
		summaries = append(summaries, summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthorized, "authentication required"))
		return
	}

	sessionID := r.PathValue("id")
	if _, err := s.deps.Store.GetSession(r.Context(), user.ID, sessionID); err != nil {
		writeError(w, err)
		return
	}

	history, err := s.deps.Store.GetHistory(r.Context(), user.ID, sessionID, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	messages := make([]messageView, 0, len(history))
	for _, m := range history {
		messages = append(messages, messageView{Role: string(m.Role), Content: m.Content})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthorized, "authentication required"))
		return
	}

	sessionID := r.PathValue("id")
	if err := s.deps.Store.DeleteSession(r.Context(), user.ID, sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

const timeFormat = "2006-01-02T15:04:05Z07:00"
