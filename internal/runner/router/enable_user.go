package router

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"nexus_bot/internal/models"
	"nexus_bot/internal/runner/sessions"
)

// EnableUser поднимает сессию на адаптерах с ключами пользователя и
// запускает её воркер. Повторный вызов только обновляет настройки.
func (r *Router) EnableUser(cfg *models.UserConfig) (*sessions.UserSession, error) {
	if cfg == nil {
		return nil, errors.New("EnableUser: nil config")
	}
	if s, ok, err := r.UpdateUser(cfg); ok {
		return s, err
	}

	b, err := r.bridges.ForUser(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if e, ok := r.users[cfg.UserID]; ok {
		// параллельный EnableUser успел раньше
		r.mu.Unlock()
		return e.sess, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess := sessions.New(cfg, b, r.deps)
	r.users[cfg.UserID] = &entry{sess: sess, cancel: cancel}
	r.mu.Unlock()

	// воркер запускаем уже без лока роутера
	go sess.ConfirmWorker(ctx)

	r.log.Info("user enabled", zap.Int64("owner", cfg.UserID), zap.String("mode", string(cfg.Mode)),
		zap.Int("exchanges", len(b.Available())))
	return sess, nil
}

// UpdateUser передаёт новые настройки активной сессии. Сменились ключи —
// адаптеры пересобираются. false — сессии нет.
func (r *Router) UpdateUser(cfg *models.UserConfig) (*sessions.UserSession, bool, error) {
	sess, ok := r.GetSession(cfg.UserID)
	if !ok {
		return nil, false, nil
	}
	next := cfg.Clone()
	if !sess.Config().SameCredentials(next) {
		b, err := r.bridges.ForUser(next)
		if err != nil {
			// старые ключи оставляем, настройки не трогаем
			return sess, true, err
		}
		sess.SetBridge(b)
		r.log.Info("user exchanges rebuilt", zap.Int64("owner", cfg.UserID), zap.Int("exchanges", len(b.Available())))
	}
	sess.UpdateConfig(func(c *models.UserConfig) { *c = *next })
	return sess, true, nil
}
