// Package httpapi is the HTTP gateway surface (spec.md §6.3): chat/confirm
// over SSE or buffered JSON, session and config CRUD, memory maintenance
// triggers, and liveness/diagnostics endpoints, grounded on the teacher's
// internal/gateway.Server / internal/web stack.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dndcreator/promethea-gateway/internal/auth"
	"github.com/dndcreator/promethea-gateway/internal/bus"
	"github.com/dndcreator/promethea-gateway/internal/config"
	"github.com/dndcreator/promethea-gateway/internal/connreg"
	"github.com/dndcreator/promethea-gateway/internal/memory"
	"github.com/dndcreator/promethea-gateway/internal/ratelimit"
	"github.com/dndcreator/promethea-gateway/internal/scheduler"
	"github.com/dndcreator/promethea-gateway/internal/store"
)

// Deps wires every component the HTTP surface depends on. Sched, Store,
// and Auth are required; the rest may be nil (the routes they back
// degrade gracefully or are not registered).
type Deps struct {
	Sched      *scheduler.Scheduler
	Store      store.Store
	Auth       *auth.Service
	Config     *config.Service
	ConfigPath string
	Memory     *memory.Service
	Graph      *memory.SQLiteGraphStore
	Conns      *connreg.Registry
	Limiter    *ratelimit.Limiter
	Bus        *bus.Bus
	Logger     *slog.Logger

	StartedAt time.Time
}

// Server owns the http.Server and its listener, started/stopped
// independently of the process's other background loops (scheduler
// workers, the Memory Service's Run loop).
type Server struct {
	deps     Deps
	logger   *slog.Logger
	addr     string
	server   *http.Server
	listener net.Listener
}

// New builds a Server listening on addr (host:port). Call Start to begin
// serving and Shutdown to drain.
func New(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	s := &Server{deps: deps, logger: deps.Logger, addr: addr}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	common := []func(http.Handler) http.Handler{
		requestIDMiddleware,
		loggingMiddleware(s.logger),
	}
	authed := append(append([]func(http.Handler) http.Handler{}, common...),
		authMiddleware(s.deps.Auth, s.logger),
		rateLimitMiddleware(s.deps.Limiter),
	)

	mux.Handle("POST /api/auth/register", chain(http.HandlerFunc(s.handleRegister), common...))
	mux.Handle("POST /api/auth/login", chain(http.HandlerFunc(s.handleLogin), common...))

	mux.Handle("POST /api/chat", chain(http.HandlerFunc(s.handleChat), authed...))
	mux.Handle("POST /api/chat/confirm", chain(http.HandlerFunc(s.handleChatConfirm), authed...))

	mux.Handle("GET /api/sessions", chain(http.HandlerFunc(s.handleListSessions), authed...))
	mux.Handle("GET /api/sessions/{id}", chain(http.HandlerFunc(s.handleGetSession), authed...))
	mux.Handle("DELETE /api/sessions/{id}", chain(http.HandlerFunc(s.handleDeleteSession), authed...))

	mux.Handle("GET /api/config", chain(http.HandlerFunc(s.handleGetConfig), authed...))
	mux.Handle("POST /api/config", chain(http.HandlerFunc(s.handleUpdateConfig), authed...))
	mux.Handle("POST /api/config/update", chain(http.HandlerFunc(s.handleUpdateConfig), authed...))
	mux.Handle("POST /api/config/reset", chain(http.HandlerFunc(s.handleResetConfig), authed...))

	mux.Handle("GET /api/memory/graph/{sid}", chain(http.HandlerFunc(s.handleMemoryGraph), authed...))
	mux.Handle("POST /api/memory/{op}/{sid}", chain(http.HandlerFunc(s.handleMemoryMaintain), authed...))

	mux.Handle("GET /api/status", chain(http.HandlerFunc(s.handleStatus), common...))
	mux.Handle("GET /api/doctor", chain(http.HandlerFunc(s.handleDoctor), authed...))
	mux.Handle("POST /api/doctor/migrate-config", chain(http.HandlerFunc(s.handleMigrateConfig), authed...))

	return mux
}

// Start begins serving in a background goroutine. It returns once the
// listener is bound, so the caller can rely on the address being live.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("starting http server", "addr", s.addr)
	return nil
}

// Shutdown gracefully drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	payload := map[string]any{
		"status": status,
		"uptime": time.Since(s.deps.StartedAt).String(),
	}
	if s.deps.Sched != nil {
		stats := s.deps.Sched.Stats()
		payload["scheduler"] = map[string]any{
			"active_sessions": stats.ActiveSessions,
			"queued_items":    stats.QueuedItems,
			"free_workers":    stats.FreeWorkers,
		}
	}
	writeJSON(w, code, payload)
}
