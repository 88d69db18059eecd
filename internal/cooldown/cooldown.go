// Package cooldown — запрет повторного входа по паре (символ, биржа).
package cooldown

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nexus_bot/internal/helper"
	"nexus_bot/internal/models"
	"nexus_bot/pkg/logger"
)

// Manager проверяет локальное хранилище и, если задано, общее (Redis).
// Ошибки общего хранилища не блокируют торговлю: пишем в лог и идём дальше.
type Manager struct {
	local  *MemoryStore
	shared Store

	tracker *Tracker
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Manager)

func WithShared(s Store) Option { return func(m *Manager) { m.shared = s } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

// WithDynamic включает масштабирование длительности в Mark.
func WithDynamic() Option { return func(m *Manager) { m.tracker = NewTracker() } }

func NewManager(opts ...Option) *Manager {
	m := &Manager{local: NewMemoryStore(), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = logger.L()
	}
	return m
}

func Key(ex models.Exchange, symbol string) string {
	return "cooldown:" + helper.PosKey(string(ex), symbol)
}

// Remaining — сколько осталось до конца кулдауна, 0 если не активен.
func (m *Manager) Remaining(ctx context.Context, ex models.Exchange, symbol string) time.Duration {
	key := Key(ex, symbol)
	now := m.now()

	until, ok, _ := m.local.Get(ctx, key)
	if m.shared != nil {
		su, sok, err := m.shared.Get(ctx, key)
		if err != nil {
			m.log.Warn("cooldown shared get", zap.String("key", key), zap.Error(err))
		} else if sok && su.After(until) {
			until, ok = su, true
		}
	}
	if !ok || !now.Before(until) {
		return 0
	}
	return until.Sub(now)
}

func (m *Manager) Active(ctx context.Context, ex models.Exchange, symbol string) bool {
	return m.Remaining(ctx, ex, symbol) > 0
}

// Set ставит кулдаун на d от текущего момента. d <= 0 снимает его.
func (m *Manager) Set(ctx context.Context, ex models.Exchange, symbol string, d time.Duration) {
	if d <= 0 {
		m.Clear(ctx, ex, symbol)
		return
	}
	key := Key(ex, symbol)
	until := m.now().Add(d)
	_ = m.local.Set(ctx, key, until)
	if m.shared != nil {
		if err := m.shared.Set(ctx, key, until); err != nil {
			m.log.Warn("cooldown shared set", zap.String("key", key), zap.Error(err))
		}
	}
}

// Mark — Set с учётом истории сигналов, если включён WithDynamic.
// Возвращает фактически выставленную длительность.
func (m *Manager) Mark(ctx context.Context, ex models.Exchange, symbol string, base time.Duration, atr *float64) time.Duration {
	d := base
	if m.tracker != nil && base > 0 {
		perHour, vol := m.tracker.Observe(Key(ex, symbol), m.now(), atr)
		d = Dynamic(base, perHour, vol)
	}
	m.Set(ctx, ex, symbol, d)
	return d
}

func (m *Manager) Clear(ctx context.Context, ex models.Exchange, symbol string) {
	key := Key(ex, symbol)
	_ = m.local.Delete(ctx, key)
	if m.shared != nil {
		if err := m.shared.Delete(ctx, key); err != nil {
			m.log.Warn("cooldown shared delete", zap.String("key", key), zap.Error(err))
		}
	}
	if m.tracker != nil {
		m.tracker.Forget(key)
	}
}

// Sweep чистит истёкшие локальные записи, зовётся из монитора.
func (m *Manager) Sweep() int { return m.local.Sweep(m.now()) }
