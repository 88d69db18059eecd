// Package monitor — фоновая сверка позиций с биржами и детектор обвала.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nexus_bot/internal/cooldown"
	"nexus_bot/internal/models"
	"nexus_bot/internal/runner/sessions"
	"nexus_bot/pkg/logger"
)

// Sessions — источник активных сессий.
type Sessions interface {
	Sessions() []*sessions.UserSession
}

// Prices — последняя цена из кеша рыночных данных.
type Prices interface {
	Get(ex models.Exchange, symbol string) (float64, bool)
}

type Config struct {
	Interval time.Duration
	// параллельных запросов к биржам на одну сессию
	Parallel int

	CrashSymbol   string
	CrashExchange models.Exchange
	CrashWindow   time.Duration
	CrashDropPct  float64
}

type Monitor struct {
	cfg      Config
	sessions Sessions
	prices   Prices
	cooldown *cooldown.Manager
	log      *zap.Logger
	now      func() time.Time

	crash *CrashDetector
	// OnCrash вызывается после рассылки уведомлений
	OnCrash func(ctx context.Context, ev CrashEvent)
}

func New(cfg Config, ss Sessions, prices Prices, cd *cooldown.Manager, log *zap.Logger) *Monitor {
	if log == nil {
		log = logger.L()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = len(models.ExchangePriority)
	}
	if cfg.CrashExchange == "" {
		cfg.CrashExchange = models.ExchangeBinance
	}
	return &Monitor{
		cfg:      cfg,
		sessions: ss,
		prices:   prices,
		cooldown: cd,
		log:      log.Named("monitor"),
		now:      time.Now,
		crash:    NewCrashDetector(cfg.CrashSymbol, cfg.CrashWindow, cfg.CrashDropPct),
	}
}

// Run крутит Tick до отмены ctx.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	m.log.Info("monitor started", zap.Duration("interval", m.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped")
			return
		case <-t.C:
			m.Tick(ctx)
		}
	}
}

// Tick — один проход: сверка всех сессий, детектор обвала, чистка кулдаунов.
func (m *Monitor) Tick(ctx context.Context) {
	for _, s := range m.sessions.Sessions() {
		if ctx.Err() != nil {
			return
		}
		m.sync(ctx, s)
	}
	m.checkCrash(ctx)
	if m.cooldown != nil {
		if n := m.cooldown.Sweep(); n > 0 {
			m.log.Debug("cooldowns swept", zap.Int("n", n))
		}
	}
}

// sync сверяет сессию по всем подключённым биржам параллельно. Ошибка
// одной биржи не мешает остальным.
func (m *Monitor) sync(ctx context.Context, s *sessions.UserSession) {
	cfg := s.Config()
	var g errgroup.Group
	g.SetLimit(m.cfg.Parallel)

	for _, ex := range s.Bridge().Available() {
		if !cfg.ExchangeEnabled(ex) {
			continue
		}
		g.Go(func() error {
			log := m.log.With(zap.Int64("owner", s.UserID), zap.String("exchange", string(ex)))
			closed, err := s.RefreshPositions(ctx, ex)
			if err != nil {
				log.Warn("refresh positions", zap.Error(err))
				return nil
			}
			for _, p := range closed {
				m.cleanupOrphans(ctx, s, p, log)
			}
			m.reprotect(ctx, s, ex, log)
			m.breakeven(ctx, s, ex, log)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) reprotect(ctx context.Context, s *sessions.UserSession, ex models.Exchange, log *zap.Logger) {
	for _, p := range s.Positions() {
		if p.Exchange != ex || !p.ProtectionIncomplete {
			continue
		}
		res, ok := s.Reprotect(ctx, p)
		if ok {
			log.Info("protection restored", zap.String("symbol", p.Symbol))
			continue
		}
		log.Warn("protection still incomplete", zap.String("symbol", p.Symbol),
			zap.String("status", string(res.Status)), zap.Error(res.Err))
	}
}

// breakeven переносит SL прибыльных позиций в безубыток.
func (m *Monitor) breakeven(ctx context.Context, s *sessions.UserSession, ex models.Exchange, log *zap.Logger) {
	if s.Config().BreakevenROI <= 0 {
		return
	}
	for _, p := range s.Positions() {
		if p.Exchange != ex || p.ProtectionIncomplete || sessions.AtBreakeven(p) {
			continue
		}
		px, ok := m.price(ctx, s, p)
		if !ok {
			continue
		}
		res, moved := s.Breakeven(ctx, p, px)
		switch {
		case moved:
			log.Info("stop moved to breakeven", zap.String("symbol", p.Symbol), zap.Float64("price", px))
		case res.Status != "":
			log.Warn("breakeven", zap.String("symbol", p.Symbol),
				zap.String("status", string(res.Status)), zap.Error(res.Err))
		}
	}
}

// price — из кеша, иначе с биржи.
func (m *Monitor) price(ctx context.Context, s *sessions.UserSession, p models.Position) (float64, bool) {
	if m.prices != nil {
		if px, ok := m.prices.Get(p.Exchange, p.Symbol); ok {
			return px, true
		}
	}
	a, err := s.Bridge().On(p.Exchange)
	if err != nil {
		return 0, false
	}
	px, err := a.GetLastPrice(ctx, p.Symbol)
	return px, err == nil && px > 0
}

// cleanupOrphans снимает защитные ордера, оставшиеся после закрытия
// позиции: сработал TP, а SL висит.
func (m *Monitor) cleanupOrphans(ctx context.Context, s *sessions.UserSession, p models.Position, log *zap.Logger) {
	a, err := s.Bridge().On(p.Exchange)
	if err != nil {
		return
	}
	open, err := a.GetOpenOrders(ctx, p.Symbol)
	if err != nil {
		log.Warn("open orders for orphan cleanup", zap.String("symbol", p.Symbol), zap.Error(err))
		return
	}
	// позиция могла открыться заново между опросами
	for _, cur := range s.Positions() {
		if cur.Exchange == p.Exchange && cur.Symbol == p.Symbol {
			return
		}
	}
	for _, o := range open {
		if !o.Type.Protective() && !o.ReduceOnly {
			continue
		}
		if err := a.CancelOrder(ctx, p.Symbol, o.ID); err != nil {
			log.Warn("cancel orphan order", zap.String("symbol", p.Symbol), zap.String("id", o.ID), zap.Error(err))
			continue
		}
		log.Info("orphan order canceled", zap.String("symbol", p.Symbol), zap.String("type", string(o.Type)))
	}
}

func (m *Monitor) checkCrash(ctx context.Context) {
	if m.prices == nil || m.cfg.CrashSymbol == "" {
		return
	}
	px, ok := m.prices.Get(m.cfg.CrashExchange, m.cfg.CrashSymbol)
	if !ok {
		return
	}
	ev, fired := m.crash.Observe(m.now(), px)
	if !fired {
		return
	}
	m.log.Warn("crash detected", zap.String("symbol", ev.Symbol), zap.Float64("drop_pct", ev.DropPct))

	msg := fmt.Sprintf("🚨 Обвал рынка: %s за %s. Новые входы стоит придержать.", ev, m.cfg.CrashWindow)
	for _, s := range m.sessions.Sessions() {
		if n := s.Notifier(); n != nil {
			n.Send(ctx, s.UserID, msg)
		}
	}
	if m.OnCrash != nil {
		m.OnCrash(ctx, ev)
	}
}
