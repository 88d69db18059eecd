package sessions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"nexus_bot/internal/models"
	"nexus_bot/internal/symbols"
)

// UpdateProtection пересчитывает SL/TP существующей позиции тем же
// расчётом, что и при входе, от сохранённой цены входа. atr nil —
// берём ATR, сохранённый при входе.
func (s *UserSession) UpdateProtection(ctx context.Context, ex models.Exchange, symbol string, atr *float64) models.ExecutionResult {
	return s.finishManual(ctx, s.reprotect(ctx, ex, symbol, atr, nil))
}

// UpdateAll — UpdateProtection по всем позициям пользователя из учёта.
func (s *UserSession) UpdateAll(ctx context.Context) []models.ExecutionResult {
	var out []models.ExecutionResult
	for _, p := range s.Positions() {
		out = append(out, s.UpdateProtection(ctx, p.Exchange, p.Symbol, nil))
	}
	return out
}

// Reprotect — повторная попытка защиты из монитора. Уведомляет только
// если защита наконец выставлена полностью.
func (s *UserSession) Reprotect(ctx context.Context, pos models.Position) (models.ExecutionResult, bool) {
	t := s.reprotect(ctx, pos.Exchange, pos.Symbol, pos.ATR, nil)
	if t.res.Status != "" {
		return *t.res, false
	}
	return s.finishManual(ctx, t), true
}

func (s *UserSession) reprotect(ctx context.Context, ex models.Exchange, symbol string, atr *float64, be *breakevenLevels) *attempt {
	symbol = symbols.Normalize(symbol)
	res := &models.ExecutionResult{Owner: s.UserID, Exchange: ex, Symbol: symbol, RefreshOnly: true}
	t := &attempt{s: s, cfg: s.Config(), ex: ex, res: res, be: be,
		sig: models.Signal{Symbol: symbol, ATR: atr},
		log: s.log.With(zap.String("exchange", string(ex)), zap.String("symbol", symbol)),
	}
	t.enter(StateIdle)

	a, err := s.Bridge().On(ex)
	if err != nil {
		t.fail(err)
		return t
	}
	t.a = a

	s.execMu.Lock()
	defer s.execMu.Unlock()

	t.enter(StateCheckingLiquidity)
	pos, found, err := t.position(ctx)
	if err != nil {
		t.fail(err)
		return t
	}
	if !found {
		s.deps.Ledger.RemovePosition(s.UserID, ex, symbol)
		t.fail(fmt.Errorf("%s %s: %w", ex, symbol, models.ErrNoPosition))
		return t
	}
	t.sig.Side = pos.Side
	res.Side = pos.Side
	if err := t.refresh(ctx, pos); err != nil {
		t.fail(err)
		return t
	}
	return t
}

func (t *attempt) fail(err error) {
	t.res.Status = models.StatusFailed
	t.res.Err = err
}

// finishManual закрывает ручную операцию тем же путём, что и Execute.
func (s *UserSession) finishManual(ctx context.Context, t *attempt) models.ExecutionResult {
	var err error
	if t.res.Status == models.StatusFailed {
		err = t.res.Err
		t.res.Status = ""
	}
	return s.finish(ctx, t, err)
}

// ClosePosition снимает ордера, закрывает позицию и убирает её из учёта.
func (s *UserSession) ClosePosition(ctx context.Context, ex models.Exchange, symbol string) models.ExecutionResult {
	symbol = symbols.Normalize(symbol)
	res := &models.ExecutionResult{Owner: s.UserID, Exchange: ex, Symbol: symbol}
	t := &attempt{s: s, cfg: s.Config(), ex: ex, res: res,
		sig: models.Signal{Symbol: symbol},
		log: s.log.With(zap.String("exchange", string(ex)), zap.String("symbol", symbol)),
	}
	t.enter(StateIdle)

	a, err := s.Bridge().On(ex)
	if err != nil {
		return s.finish(ctx, t, err)
	}
	t.a = a

	s.execMu.Lock()
	defer s.execMu.Unlock()

	pos, found, err := t.position(ctx)
	if err != nil {
		return s.finish(ctx, t, err)
	}
	if !found {
		s.deps.Ledger.RemovePosition(s.UserID, ex, symbol)
		return s.finish(ctx, t, fmt.Errorf("%s %s: %w", ex, symbol, models.ErrNoPosition))
	}
	res.Side = pos.Side
	res.Quantity = pos.Quantity
	res.EntryPrice = pos.EntryPrice

	exit, err := t.closeAndConfirm(ctx, pos)
	if err != nil {
		return s.finish(ctx, t, err)
	}
	if s.recordClose(closePnL(pos, exit)) {
		res.Warn("серия убытков: автоторговля переведена в COPILOT")
	}
	return s.finish(ctx, t, nil)
}

// CloseAll — закрыть все позиции пользователя, например по crash-событию.
func (s *UserSession) CloseAll(ctx context.Context) []models.ExecutionResult {
	var out []models.ExecutionResult
	for _, p := range s.Positions() {
		out = append(out, s.ClosePosition(ctx, p.Exchange, p.Symbol))
	}
	return out
}
