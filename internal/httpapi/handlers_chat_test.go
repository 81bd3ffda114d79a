package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dndcreator/promethea-gateway/internal/auth"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

func TestHandleChatNonStreamingAutoCreatesSession(t *testing.T) {
	srv, _ := newTestServer(t, echoExecutor("hello there"))
	user, _ := registerAndLogin(t, srv, "dana", "pw")

	body := `{"message":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := newRecorder()

	srv.handleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("resp.SessionID is empty, want an auto-created session id")
	}
	if resp.Text != "hello there" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "hello there")
	}
}

func TestHandleChatUsesExistingSession(t *testing.T) {
	srv, st := newTestServer(t, echoExecutor("ack"))
	user, _ := registerAndLogin(t, srv, "erin", "pw")

	session := &models.Session{UserID: user.ID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := st.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	body := `{"session_id":"` + session.ID + `","message":"continuing"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := newRecorder()

	srv.handleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != session.ID {
		t.Fatalf("resp.SessionID = %q, want %q", resp.SessionID, session.ID)
	}
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	user, _ := registerAndLogin(t, srv, "frank", "pw")

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":""}`))
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := newRecorder()

	srv.handleChat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleChatPropagatesConversationError(t *testing.T) {
	srv, _ := newTestServer(t, failingExecutor("boom"))
	user, _ := registerAndLogin(t, srv, "gina", "pw")

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := newRecorder()

	srv.handleChat(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatalf("status = %d, want a non-200 error status for a conversation.error turn", rec.Code)
	}
}

func TestHandleChatUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	rec := newRecorder()

	srv.handleChat(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
