package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dndcreator/promethea-gateway/internal/auth"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

func TestHandleListSessions(t *testing.T) {
	srv, st := newTestServer(t, nil)
	user, _ := registerAndLogin(t, srv, "holly", "pw")

	session := &models.Session{UserID: user.ID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := st.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := st.AppendMessages(context.Background(), user.ID, session.ID, []*models.Message{
		{ID: "m1", SessionID: session.ID, Role: models.RoleUser, Content: "hi", CreatedAt: time.Now()},
		{ID: "m2", SessionID: session.ID, Role: models.RoleAssistant, Content: "hello", CreatedAt: time.Now()},
	}); err != nil {
		t.Fatalf("append messages: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := newRecorder()

	srv.handleListSessions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Sessions) != 1 {
		t.Fatalf("len(resp.Sessions) = %d, want 1", len(resp.Sessions))
	}
	got := resp.Sessions[0]
	if got.SessionID != session.ID || got.MessageCount != 2 || got.LastMessage != "hello" {
		t.Fatalf("resp.Sessions[0] = %+v, want session_id=%q message_count=2 last_message=%q", got, session.ID, "hello")
	}
}

func TestHandleGetSessionNotOwned(t *testing.T) {
	srv, st := newTestServer(t, nil)
	owner, _ := registerAndLogin(t, srv, "ivan", "pw")
	other, _ := registerAndLogin(t, srv, "jack", "pw")

	session := &models.Session{UserID: owner.ID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := st.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+session.ID, nil)
	req.SetPathValue("id", session.ID)
	req = req.WithContext(auth.WithUser(req.Context(), other))
	rec := newRecorder()

	srv.handleGetSession(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatalf("status = %d, want a non-200 error when the caller does not own the session", rec.Code)
	}
}

func TestHandleDeleteSession(t *testing.T) {
	srv, st := newTestServer(t, nil)
	user, _ := registerAndLogin(t, srv, "karen", "pw")

	session := &models.Session{UserID: user.ID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := st.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+session.ID, nil)
	req.SetPathValue("id", session.ID)
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := newRecorder()

	srv.handleDeleteSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	if _, err := st.GetSession(context.Background(), user.ID, session.ID); err == nil {
		t.Fatal("GetSession() after delete succeeded, want an error")
	}
}
