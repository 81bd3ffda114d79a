package httpapi

import (
	"context"

	"github.com/dndcreator/promethea-gateway/internal/scheduler"
	"github.com/dndcreator/promethea-gateway/internal/store"
	"github.com/dndcreator/promethea-gateway/internal/turn"
)

// TurnExecutor adapts a turn.Engine into a scheduler.Executor, translating
// a scheduler.WorkItem into the turn.Input shape the engine expects. It
// lives here, not in cmd, because both scheduler and turn packages already
// avoid importing each other (see turn.Engine.Run's doc comment) and
// httpapi is the one place that constructs both together for wiring.
func TurnExecutor(engine *turn.Engine) scheduler.Executor {
	return func(ctx context.Context, item *scheduler.WorkItem, handle *store.TurnHandle) error {
		in := turn.Input{
			UserID:        item.UserID,
			SessionID:     item.SessionID,
			UserMessage:   item.UserMessage,
			ResumeCallID:  item.ResumeCallID,
			ConfirmAction: item.ConfirmAction,
			Emit:          item.StreamCallback,
		}
		return engine.Run(ctx, in, handle)
	}
}
