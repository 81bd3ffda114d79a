package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dndcreator/promethea-gateway/internal/apperr"
)

type credentialsRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	AgentName string `json:"agent_name,omitempty"`
}

// registerResponse matches spec.md §6.3's POST /api/auth/register shape.
type registerResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// loginResponse matches spec.md §6.3's POST /api/auth/login shape, which
// diverges from register's in both field name (access_token vs token) and
// the addition of agent_name.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	AgentName   string `json:"agent_name,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidArguments, "invalid request body", err))
		return
	}
	user, token, err := s.deps.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidArguments, err.Error(), err))
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{UserID: user.ID, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidArguments, "invalid request body", err))
		return
	}
	user, token, err := s.deps.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Unauthorized, err.Error(), err))
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: token, UserID: user.ID, AgentName: user.AgentName})
}
