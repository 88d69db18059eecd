package bridge

import "nexus_bot/internal/models"

// Factory собирает Bridge под ключи конкретного пользователя. У каждого
// пользователя свои адаптеры: позиции и ордера одного не видны другому.
type Factory interface {
	ForUser(cfg *models.UserConfig) (*Bridge, error)
}

type FactoryFunc func(cfg *models.UserConfig) (*Bridge, error)

func (f FactoryFunc) ForUser(cfg *models.UserConfig) (*Bridge, error) { return f(cfg) }
