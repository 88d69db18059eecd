package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nexus_bot/internal/bridge"
	"nexus_bot/internal/exchange"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/notify"
	"nexus_bot/internal/runner/sessions"
	"nexus_bot/internal/symbols"
	"nexus_bot/pkg/logger"
)

// Sessions — активные сессии после старта раннера.
type Sessions interface {
	Sessions() []*sessions.UserSession
}

// Ready — куда отмечаем готовность (health).
type Ready interface {
	SetReady(v bool)
}

type Warmuper struct {
	bridge *bridge.Bridge
	ss     Sessions
	ready  Ready
	n      notify.Notifier
	cfg    *config.Config
	log    *zap.Logger

	// ограничитель параллелизма, чтобы не словить rate limit
	parallel int
}

func NewWarmuper(b *bridge.Bridge, ss Sessions, ready Ready, n notify.Notifier, cfg *config.Config, log *zap.Logger) *Warmuper {
	if log == nil {
		log = logger.L()
	}
	return &Warmuper{
		bridge:   b,
		ss:       ss,
		ready:    ready,
		n:        n,
		cfg:      cfg,
		log:      log.Named("warmup"),
		parallel: 8,
	}
}

// Warmup прогревает спецификации и цены символов на всех биржах, затем
// сверяет позиции активных сессий с биржами. Ошибки по отдельным символам
// не мешают готовности.
func (w *Warmuper) Warmup(ctx context.Context, list []string) error {
	var warmed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.parallel)
	for _, ex := range w.bridge.Available() {
		a, err := w.bridge.On(ex)
		if err != nil {
			continue
		}
		for _, raw := range list {
			sym := symbols.Normalize(raw)
			g.Go(func() error {
				if err := warmSymbol(gctx, a, sym); err != nil {
					failed.Add(1)
					w.log.Warn("warmup symbol", zap.String("exchange", string(ex)), zap.String("symbol", sym), zap.Error(err))
					return nil
				}
				warmed.Add(1)
				return nil
			})
		}
	}
	_ = g.Wait()

	var openPositions int
	for _, s := range w.ss.Sessions() {
		for _, ex := range w.bridge.Available() {
			if !s.Config().ExchangeEnabled(ex) {
				continue
			}
			if _, err := s.RefreshPositions(ctx, ex); err != nil {
				w.log.Warn("refresh positions", zap.Int64("owner", s.UserID), zap.String("exchange", string(ex)), zap.Error(err))
			}
		}
		openPositions += len(s.Positions())
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	w.ready.SetReady(true)

	msg := fmt.Sprintf("✅ Warmup: символов %d, ошибок %d, открытых позиций %d", warmed.Load(), failed.Load(), openPositions)
	w.log.Info(msg)
	if w.cfg.Telegram.AdminChatID != 0 {
		w.n.Send(ctx, w.cfg.Telegram.AdminChatID, msg)
	}
	return nil
}

// warmSymbol — сетевые ретраи делает сам адаптер.
func warmSymbol(ctx context.Context, a exchange.Adapter, sym string) error {
	if _, err := a.GetSymbolInfo(ctx, sym); err != nil {
		return err
	}
	_, err := a.GetLastPrice(ctx, sym)
	return err
}
