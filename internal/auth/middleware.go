package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Middleware enforces JWT/API key auth for HTTP handlers, attaching the
// resolved user to the request context. Requests are rejected with 401 if
// neither a bearer token nor an API key validates. When service is disabled
// (no JWT secret and no API keys configured), requests pass through
// unauthenticated.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if service == nil || !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			if token := extractBearer(r); token != "" {
				user, err := service.ValidateJWT(token)
				if err != nil {
					if logger != nil {
						logger.Warn("jwt validation failed", "error", err)
					}
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}

			if apiKey := extractAPIKey(r); apiKey != "" {
				user, err := service.ValidateAPIKey(apiKey)
				if err != nil {
					if logger != nil {
						logger.Warn("api key validation failed", "error", err)
					}
					http.Error(w, "invalid api key", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}

			http.Error(w, "missing credentials", http.StatusUnauthorized)
		})
	}
}

func extractBearer(r *http.Request) string {
	value := r.Header.Get("Authorization")
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return ""
}

func extractAPIKey(r *http.Request) string {
	for _, header := range []string{"X-Api-Key", "Api-Key"} {
		if value := strings.TrimSpace(r.Header.Get(header)); value != "" {
			return value
		}
	}
	return ""
}
