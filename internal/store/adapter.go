package store

import (
	"context"

	"github.com/dndcreator/promethea-gateway/pkg/models"
)

// AuthUserStore adapts a Store to internal/auth.UserStore's narrower
// GetByUsername/Create method names, so cmd/promethea-gateway can wire
// auth.Service.SetUserStore(store.AuthUserStore{Store: s}) directly.
type AuthUserStore struct {
	Store
}

func (a AuthUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return a.Store.GetUserByUsername(ctx, username)
}

func (a AuthUserStore) Create(ctx context.Context, user *models.User) error {
	return a.Store.CreateUser(ctx, user)
}
