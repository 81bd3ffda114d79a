package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/dndcreator/promethea-gateway/internal/auth"
	"github.com/dndcreator/promethea-gateway/internal/observability"
	"github.com/dndcreator/promethea-gateway/internal/ratelimit"
)

// requestIDMiddleware stamps every request with a correlation id (reusing
// the caller's X-Request-Id if present) and carries it on the context via
// observability.AddRequestID, so every log line and error response traces
// back to one request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := observability.AddRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "req-unknown"
	}
	return hex.EncodeToString(buf)
}

// loggingMiddleware logs one line per request, grounded on the teacher's
// internal/web.LoggingMiddleware's status-capturing responseWriter.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			if logger != nil {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", wrapped.status,
					"duration", time.Since(start),
					"request_id", observability.GetRequestID(r.Context()),
				)
			}
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush lets the wrapped writer still satisfy http.Flusher for SSE handlers
// sitting behind this middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// authMiddleware wraps auth.Middleware, additionally threading the resolved
// user id into the observability context key so downstream tool calls
// (internal/tools.Registry.Invoke) and the Memory Service see it too.
func authMiddleware(service *auth.Service, logger *slog.Logger) func(http.Handler) http.Handler {
	inner := auth.Middleware(service, logger)
	return func(next http.Handler) http.Handler {
		return inner(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user, ok := auth.UserFromContext(r.Context()); ok {
				ctx := observability.AddUserID(r.Context(), user.ID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// rateLimitMiddleware rejects a request with apperr.RateLimited's status
// once the caller's token bucket (keyed by authenticated user id, falling
// back to remote address for unauthenticated routes) is empty.
func rateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := r.RemoteAddr
			if user, ok := auth.UserFromContext(r.Context()); ok {
				key = user.ID
			}
			if !limiter.Allow(key) {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middlewares in order, so the first one listed runs
// outermost (request id wraps logging wraps auth wraps the handler).
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
