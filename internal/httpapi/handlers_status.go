package httpapi

import (
	"net/http"

	"github.com/dndcreator/promethea-gateway/internal/config"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"memory_active": s.deps.Memory != nil,
	})
}

// handleDoctor runs a structured diagnostic sweep: scheduler load, memory
// drop count, event bus mailbox drop count, and config file version,
// mirroring the teacher's doctor package's check-by-check report shape
// without its channel-specific probes, which this gateway has no
// equivalent surface for.
func (s *Server) handleDoctor(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{}

	if s.deps.Sched != nil {
		stats := s.deps.Sched.Stats()
		checks["scheduler"] = map[string]any{
			"ok":              true,
			"active_sessions": stats.ActiveSessions,
			"queued_items":    stats.QueuedItems,
			"free_workers":    stats.FreeWorkers,
		}
	}

	if s.deps.Memory != nil {
		checks["memory"] = map[string]any{
			"ok":      true,
			"dropped": s.deps.Memory.DroppedCount(),
		}
	}

	if s.deps.Bus != nil {
		checks["bus"] = map[string]any{
			"ok":      true,
			"dropped": s.deps.Bus.DroppedCount(),
		}
	}

	checks["config"] = s.configCheck()

	writeJSON(w, http.StatusOK, map[string]any{"checks": checks})
}

func (s *Server) configCheck() map[string]any {
	if s.deps.ConfigPath == "" {
		return map[string]any{"ok": true, "reason": "no config file path tracked (env-only configuration)"}
	}
	raw, err := config.LoadRaw(s.deps.ConfigPath)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}
	}
	version, _ := raw["version"].(int)
	if err := config.ValidateVersion(version); err != nil {
		return map[string]any{"ok": false, "error": err.Error()}
	}
	return map[string]any{"ok": true, "version": version}
}

// handleMigrateConfig diagnoses a config version mismatch and reports what
// repair would be needed. It does not rewrite the file in place: the
// config package's loader is read-only (no writer exists to pair with
// LoadRaw), so this is the diagnose half of self-repair; an operator
// applies the suggested version bump by hand.
func (s *Server) handleMigrateConfig(w http.ResponseWriter, r *http.Request) {
	check := s.configCheck()
	if ok, _ := check["ok"].(bool); ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "up_to_date"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "needs_migration",
		"detail": check["error"],
		"target": config.CurrentVersion,
	})
}
