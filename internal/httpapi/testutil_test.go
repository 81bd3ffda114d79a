package httpapi

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/dndcreator/promethea-gateway/internal/auth"
	"github.com/dndcreator/promethea-gateway/internal/bus"
	"github.com/dndcreator/promethea-gateway/internal/config"
	"github.com/dndcreator/promethea-gateway/internal/connreg"
	"github.com/dndcreator/promethea-gateway/internal/scheduler"
	"github.com/dndcreator/promethea-gateway/internal/store"
	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// echoExecutor is a scheduler.Executor stand-in that skips internal/turn
// entirely: it emits a stream.text frame followed by conversation.complete,
// so handler tests can exercise the async enqueue/wait bridge without
// standing up a full turn engine (which is covered by its own package's
// tests).
func echoExecutor(reply string) scheduler.Executor {
	return func(ctx context.Context, item *scheduler.WorkItem, handle *store.TurnHandle) error {
		if item.StreamCallback == nil {
			return nil
		}
		item.StreamCallback(models.Event{
			Type:    models.EventConversationStreamText,
			Payload: map[string]string{"text": reply},
		})
		item.StreamCallback(models.Event{
			Type:    models.EventConversationComplete,
			Payload: map[string]string{"text": reply},
		})
		return nil
	}
}

// failingExecutor always reports a non-retriable failure, for exercising
// the conversation.error terminal path.
func failingExecutor(message string) scheduler.Executor {
	return func(ctx context.Context, item *scheduler.WorkItem, handle *store.TurnHandle) error {
		if item.StreamCallback != nil {
			item.StreamCallback(models.Event{
				Type:    models.EventConversationError,
				Payload: map[string]string{"error": message},
			})
		}
		return nil
	}
}

// newTestServer wires a Server backed by an in-memory store, a password
// auth service, and exec as the scheduler's turn executor. Tests that don't
// care about the chat path can pass a nil exec.
func newTestServer(t *testing.T, exec scheduler.Executor) (*Server, store.Store) {
	t.Helper()

	memStore := store.NewMemoryStore()

	authSvc := auth.NewService(auth.Config{JWTSecret: "test-secret"})
	authSvc.SetUserStore(store.AuthUserStore{Store: memStore})

	if exec == nil {
		exec = echoExecutor("")
	}
	sched := scheduler.New(scheduler.Config{Workers: 4, QueueDepth: 8}, memStore, exec, nil, nil)

	cfgSvc := config.NewService(&config.Config{}, nil)
	eventBus := bus.New(nil, bus.DefaultMailboxSize)

	srv := New("127.0.0.1:0", Deps{
		Sched:  sched,
		Store:  memStore,
		Auth:   authSvc,
		Config: cfgSvc,
		Conns:  connreg.New(),
		Bus:    eventBus,
	})
	return srv, memStore
}

// registerAndLogin creates a user directly through the auth service and
// returns a bearer token, bypassing the HTTP register route for tests that
// only need an authenticated caller.
func registerAndLogin(t *testing.T, srv *Server, username, password string) (*models.User, string) {
	t.Helper()
	user, token, err := srv.deps.Auth.Register(context.Background(), username, password)
	if err != nil {
		t.Fatalf("Register(%q) error = %v", username, err)
	}
	return user, token
}

func newRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
