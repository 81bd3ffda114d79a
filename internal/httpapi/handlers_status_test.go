package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleStatus(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := newRecorder()

	srv.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("resp[\"ok\"] = %v, want true", resp["ok"])
	}
}

func TestHandleDoctorReportsSchedulerLoad(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/doctor", nil)
	rec := newRecorder()

	srv.handleDoctor(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp struct {
		Checks map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp.Checks["scheduler"]; !ok {
		t.Fatalf("resp.Checks = %+v, want a scheduler entry", resp.Checks)
	}
	if _, ok := resp.Checks["config"]; !ok {
		t.Fatalf("resp.Checks = %+v, want a config entry", resp.Checks)
	}
	if _, ok := resp.Checks["bus"]; !ok {
		t.Fatalf("resp.Checks = %+v, want a bus entry", resp.Checks)
	}
}

func TestHandleMigrateConfigWithNoTrackedPath(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/doctor/migrate-config", nil)
	rec := newRecorder()

	srv.handleMigrateConfig(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "up_to_date" {
		t.Fatalf("resp.Status = %q, want %q (no config path tracked means nothing to migrate)", resp.Status, "up_to_date")
	}
}
