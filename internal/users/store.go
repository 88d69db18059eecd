// Package users хранит торговые настройки пользователей между рестартами.
package users

import (
	"context"
	"errors"

	"nexus_bot/internal/models"
)

var ErrNotFound = errors.New("user config not found")

type Store interface {
	Get(ctx context.Context, userID int64) (*models.UserConfig, error)
	Save(ctx context.Context, cfg *models.UserConfig) error
	List(ctx context.Context) ([]*models.UserConfig, error)
}
