package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"nexus_bot/internal/models"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/monitor"
	"nexus_bot/internal/risk"
	"nexus_bot/internal/runner/router"
	"nexus_bot/internal/runner/sessions"
	"nexus_bot/internal/symbols"
	"nexus_bot/internal/users"
	"nexus_bot/pkg/logger"
)

// Manager — вход для сигналов и команд пользователей: поднимает сессии,
// хранит настройки, крутит монитор.
type Manager struct {
	cfg     *config.Config
	router  *router.Router
	store   users.Store
	monitor *monitor.Monitor
	prices  router.Prices
	breaker *risk.CircuitBreaker
	log     *zap.Logger

	signals chan models.Signal

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg *config.Config, r *router.Router, store users.Store, mon *monitor.Monitor, prices router.Prices, breaker *risk.CircuitBreaker, log *zap.Logger) *Manager {
	if log == nil {
		log = logger.L()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	return &Manager{
		cfg:     cfg,
		router:  r,
		store:   store,
		monitor: mon,
		prices:  prices,
		breaker: breaker,
		log:     log.Named("runner"),
		signals: make(chan models.Signal, size),
	}
}

// Start поднимает сессии для пользователей из хранилища и из конфига,
// затем цикл приёма сигналов и монитор.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return errors.New("runner already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	cfgs, err := m.initialUsers(ctx)
	if err != nil {
		cancel()
		return err
	}
	started := 0
	for _, c := range cfgs {
		if _, err := m.router.EnableUser(c); err != nil {
			m.log.Warn("user not started", zap.Int64("owner", c.UserID), zap.Error(err))
			continue
		}
		started++
	}
	m.log.Info("runner started", zap.Int("users", started), zap.Int("configured", len(cfgs)))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.intake(ctx)
	}()
	if m.monitor != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.monitor.Run(ctx)
		}()
	}
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.router.DisableAll()
	m.log.Info("runner stopped")
}

// initialUsers: сохранённые настройки важнее сидов из конфига, новые
// сиды сразу сохраняем.
func (m *Manager) initialUsers(ctx context.Context) ([]*models.UserConfig, error) {
	stored, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	seen := make(map[int64]bool, len(stored))
	for _, c := range stored {
		seen[c.UserID] = true
	}
	out := stored
	for _, seed := range m.cfg.Users {
		if seen[seed.ID] {
			continue
		}
		c := models.NewUserConfigFromSeed(seed, m.cfg)
		if err := m.store.Save(ctx, c); err != nil {
			m.log.Warn("save seeded user", zap.Int64("owner", c.UserID), zap.Error(err))
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Manager) intake(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-m.signals:
			m.router.OnSignal(ctx, sig)
		}
	}
}

// Submit принимает сигнал от внешнего слоя стратегий. Не блокирует.
func (m *Manager) Submit(sig models.Signal) error {
	sig.Symbol = symbols.Normalize(sig.Symbol)
	sig.Side = models.Side(strings.ToUpper(string(sig.Side)))
	if !sig.Side.Valid() || sig.Symbol == "" {
		return fmt.Errorf("signal %q %q: %w", sig.Symbol, sig.Side, models.ErrInvalidOrder)
	}
	select {
	case m.signals <- sig:
		return nil
	default:
		return errors.New("signal queue full")
	}
}

func (m *Manager) Sessions() []*sessions.UserSession { return m.router.Sessions() }

func (m *Manager) Session(userID int64) (*sessions.UserSession, bool) {
	return m.router.GetSession(userID)
}

// RunForUser включает торговлю пользователю; настройки берутся из
// хранилища или дефолтов.
func (m *Manager) RunForUser(ctx context.Context, userID int64) (*sessions.UserSession, error) {
	cfg, err := m.userConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.router.EnableUser(cfg)
}

func (m *Manager) StopForUser(userID int64) error {
	if !m.router.DisableUser(userID) {
		return fmt.Errorf("runner not running for user %d", userID)
	}
	return nil
}

// UpdateUser меняет настройки и сохраняет их; активная сессия видит
// изменения со следующего сигнала, новые ключи пересобирают её адаптеры.
func (m *Manager) UpdateUser(ctx context.Context, userID int64, fn func(cfg *models.UserConfig)) (*models.UserConfig, error) {
	cfg, err := m.userConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	fn(cfg)
	if err := m.store.Save(ctx, cfg); err != nil {
		return nil, err
	}
	if _, _, err := m.router.UpdateUser(cfg); err != nil {
		return cfg, fmt.Errorf("settings saved, session kept previous keys: %w", err)
	}
	return cfg, nil
}

// User — текущие настройки пользователя (копия).
func (m *Manager) User(ctx context.Context, userID int64) (*models.UserConfig, error) {
	cfg, err := m.userConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

func (m *Manager) userConfig(ctx context.Context, userID int64) (*models.UserConfig, error) {
	if s, ok := m.router.GetSession(userID); ok {
		return s.Config(), nil
	}
	cfg, err := m.store.Get(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return models.NewUserConfigFromDefaults(userID, m.cfg), nil
	}
	return cfg, err
}

func (m *Manager) Status(userID int64) ([]router.PositionStatus, error) {
	return m.router.StatusForUser(userID, m.prices)
}

// ResetBreaker снимает блокировку автоторговли после серии убытков.
func (m *Manager) ResetBreaker(userID int64) {
	if m.breaker != nil {
		m.breaker.Reset(userID)
	}
}

func (m *Manager) ClosePosition(ctx context.Context, userID int64, ex models.Exchange, symbol string) (models.ExecutionResult, error) {
	s, ok := m.router.GetSession(userID)
	if !ok {
		return models.ExecutionResult{}, fmt.Errorf("бот не запущен для пользователя %d", userID)
	}
	return s.ClosePosition(ctx, ex, symbol), nil
}

// SyncProtection пересчитывает SL/TP всех позиций пользователя.
func (m *Manager) SyncProtection(ctx context.Context, userID int64) ([]models.ExecutionResult, error) {
	s, ok := m.router.GetSession(userID)
	if !ok {
		return nil, fmt.Errorf("бот не запущен для пользователя %d", userID)
	}
	return s.UpdateAll(ctx), nil
}

func (m *Manager) CloseAll(ctx context.Context, userID int64) ([]models.ExecutionResult, error) {
	s, ok := m.router.GetSession(userID)
	if !ok {
		return nil, fmt.Errorf("бот не запущен для пользователя %d", userID)
	}
	return s.CloseAll(ctx), nil
}

// CloseAllUsers — аварийное закрытие у всех, по crash-событию.
func (m *Manager) CloseAllUsers(ctx context.Context) {
	for _, s := range m.router.Sessions() {
		res := s.CloseAll(ctx)
		m.log.Warn("positions closed on crash", zap.Int64("owner", s.UserID), zap.Int("n", len(res)))
	}
}
