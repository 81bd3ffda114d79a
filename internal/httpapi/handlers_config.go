package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dndcreator/promethea-gateway/internal/apperr"
	"github.com/dndcreator/promethea-gateway/internal/auth"
	"github.com/dndcreator/promethea-gateway/internal/config"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthorized, "authentication required"))
		return
	}
	snap := s.deps.Config.GetSnapshot(user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"config": config.Redacted(snap.Effective())})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthorized, "authentication required"))
		return
	}

	var body struct {
		Config *config.Config `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Config == nil {
		writeError(w, apperr.New(apperr.InvalidArguments, "config patch is required"))
		return
	}

	if err := s.deps.Config.UpdateUserConfig(user.ID, body.Config); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidArguments, err.Error(), err))
		return
	}

	snap := s.deps.Config.GetSnapshot(user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"config": config.Redacted(snap.Effective())})
}

func (s *Server) handleResetConfig(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthorized, "authentication required"))
		return
	}
	if err := s.deps.Config.ResetUser(user.ID); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, err.Error(), err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
