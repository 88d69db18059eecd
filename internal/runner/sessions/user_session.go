// Package sessions — исполнение сигналов одного пользователя.
package sessions

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"nexus_bot/internal/bridge"
	"nexus_bot/internal/cooldown"
	"nexus_bot/internal/journal"
	"nexus_bot/internal/ledger"
	"nexus_bot/internal/models"
	"nexus_bot/internal/notify"
	"nexus_bot/internal/protection"
	"nexus_bot/internal/risk"
	"nexus_bot/pkg/logger"
)

type Options struct {
	// таймаут одного вызова биржи
	AdapterTimeout time.Duration
	// пауза между проверками закрытия при развороте
	FlipSettleDelay time.Duration
	FlipChecks      int
	QueueSize       int
	WorkingType     string
}

func DefaultOptions() Options {
	return Options{
		AdapterTimeout:  8 * time.Second,
		FlipSettleDelay: time.Second,
		FlipChecks:      3,
		QueueSize:       64,
		WorkingType:     protection.WorkingMarkPrice,
	}
}

// Deps — общие для всех сессий компоненты. Ledger, Cooldown и Breaker
// шарятся между пользователями, записи в них разделены по owner.
type Deps struct {
	Ledger   *ledger.Ledger
	Cooldown *cooldown.Manager
	Risk     *risk.Engine
	Planner  protection.Planner
	Breaker  *risk.CircuitBreaker
	// nil — проверка корреляции выключена
	Correlation *risk.CorrelationGuard
	Notifier    notify.Notifier
	Journal     journal.Recorder
	// общий на всех пользователей лимит одновременных исполнений
	Gate    *semaphore.Weighted
	Log     *zap.Logger
	Options Options
}

type UserSession struct {
	UserID int64

	deps Deps
	// адаптеры на ключах пользователя; меняются при смене ключей
	bridge atomic.Pointer[bridge.Bridge]
	log    *zap.Logger

	cfgMu sync.RWMutex
	cfg   *models.UserConfig

	// одна попытка исполнения за раз: от расчёта объёма до проверки защиты
	execMu sync.Mutex

	Queue chan models.Signal
}

func New(cfg *models.UserConfig, b *bridge.Bridge, deps Deps) *UserSession {
	if deps.Log == nil {
		deps.Log = logger.L()
	}
	if deps.Journal == nil {
		deps.Journal = journal.Noop{}
	}
	if deps.Risk == nil {
		deps.Risk = risk.NewEngine()
	}
	if deps.Planner.NudgeTicks <= 0 {
		deps.Planner = protection.New(1)
	}
	def := DefaultOptions()
	if deps.Options.AdapterTimeout <= 0 {
		deps.Options.AdapterTimeout = def.AdapterTimeout
	}
	if deps.Options.FlipChecks <= 0 {
		deps.Options.FlipChecks = def.FlipChecks
	}
	if deps.Options.QueueSize <= 0 {
		deps.Options.QueueSize = def.QueueSize
	}
	if deps.Options.WorkingType == "" {
		deps.Options.WorkingType = def.WorkingType
	}

	s := &UserSession{
		UserID: cfg.UserID,
		deps:   deps,
		log:    deps.Log.With(zap.Int64("owner", cfg.UserID)),
		cfg:    cfg.Clone(),
		Queue:  make(chan models.Signal, deps.Options.QueueSize),
	}
	s.bridge.Store(b)
	return s
}

// Config — копия текущих настроек.
func (s *UserSession) Config() *models.UserConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.Clone()
}

func (s *UserSession) UpdateConfig(fn func(cfg *models.UserConfig)) {
	s.cfgMu.Lock()
	fn(s.cfg)
	s.cfgMu.Unlock()
}

// Mode — режим с учётом circuit breaker: после серии убытков PILOT
// работает как COPILOT до ручного сброса.
func (s *UserSession) Mode() models.ExecMode {
	mode := s.Config().Mode
	if mode == models.ModePilot && s.deps.Breaker != nil && s.deps.Breaker.Tripped(s.UserID) {
		return models.ModeCopilot
	}
	return mode
}

func (s *UserSession) Bridge() *bridge.Bridge { return s.bridge.Load() }

// SetBridge подменяет адаптеры. Идущее исполнение доработает на старых.
func (s *UserSession) SetBridge(b *bridge.Bridge) { s.bridge.Store(b) }

func (s *UserSession) Notifier() notify.Notifier { return s.deps.Notifier }

// Enqueue не блокирует: при забитой очереди сигнал отбрасывается.
func (s *UserSession) Enqueue(sig models.Signal) bool {
	select {
	case s.Queue <- sig:
		return true
	default:
		s.log.Warn("queue full, signal dropped", zap.String("symbol", sig.Symbol))
		return false
	}
}

// Positions — позиции пользователя из теневого учёта.
func (s *UserSession) Positions() []models.Position {
	return s.deps.Ledger.Positions(s.UserID)
}

func (s *UserSession) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.deps.Options.AdapterTimeout)
}

// recordClose кормит circuit breaker результатом закрытия.
// true — именно это закрытие перевело пользователя в COPILOT.
func (s *UserSession) recordClose(pnl float64) bool {
	if s.deps.Breaker == nil {
		return false
	}
	tripped := s.deps.Breaker.RecordClose(s.UserID, pnl)
	if tripped {
		s.log.Warn("circuit breaker tripped", zap.Int("losses", s.deps.Breaker.Losses(s.UserID)))
	}
	return tripped
}

func closePnL(pos models.Position, exit float64) float64 {
	if exit <= 0 || pos.EntryPrice <= 0 {
		return 0
	}
	return (exit - pos.EntryPrice) * pos.SignedQty()
}
