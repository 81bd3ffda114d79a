package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dndcreator/promethea-gateway/internal/auth"
)

func TestHandleGetConfig(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	user, _ := registerAndLogin(t, srv, "liam", "pw")

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := newRecorder()

	srv.handleGetConfig(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["config"]; !ok {
		t.Fatalf("resp = %+v, want a top-level config key", resp)
	}
}

func TestHandleUpdateAndResetConfig(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	user, _ := registerAndLogin(t, srv, "mona", "pw")

	t.Run("rejects a missing patch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(`{}`))
		req = req.WithContext(auth.WithUser(req.Context(), user))
		rec := newRecorder()

		srv.handleUpdateConfig(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("applies a patch and resets it", func(t *testing.T) {
		patch := `{"config":{"llm":{"model":"test-model"}}}`
		req := httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(patch))
		req = req.WithContext(auth.WithUser(req.Context(), user))
		rec := newRecorder()

		srv.handleUpdateConfig(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
		}

		resetReq := httptest.NewRequest(http.MethodPost, "/api/config/reset", nil)
		resetReq = resetReq.WithContext(auth.WithUser(resetReq.Context(), user))
		resetRec := newRecorder()

		srv.handleResetConfig(resetRec, resetReq)

		if resetRec.Code != http.StatusOK {
			t.Fatalf("reset status = %d, want %d (body=%s)", resetRec.Code, http.StatusOK, resetRec.Body.String())
		}
	})
}
