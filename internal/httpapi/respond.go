package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dndcreator/promethea-gateway/internal/apperr"
)

// writeJSON encodes payload as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError normalizes err into a single JSON error shape and the status
// code its apperr.Kind maps to, so every handler's failure path looks the
// same on the wire regardless of which component raised it.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(apperr.KindOf(err))
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(apperr.KindOf(err)),
	})
}

// statusFor maps the closed apperr.Kind taxonomy onto HTTP status codes.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.Forbidden, apperr.ToolDenied:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Busy:
		return http.StatusServiceUnavailable
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.UpstreamUnavailable, apperr.ToolRuntime:
		return http.StatusBadGateway
	case apperr.InvalidArguments:
		return http.StatusBadRequest
	case apperr.ToolTimeout:
		return http.StatusGatewayTimeout
	case apperr.ToolLoopLimit:
		return http.StatusUnprocessableEntity
	case apperr.Cancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
