package sessions

import (
	"context"

	"go.uber.org/zap"

	"nexus_bot/internal/models"
	"nexus_bot/internal/risk"
)

// BreakevenBuffer — стоп на 0.1% за ценой входа, чтобы покрыть комиссии.
const BreakevenBuffer = 0.001

type breakevenLevels struct {
	price float64 // текущая цена: стороны SL/TP проверяются от неё
	stop  float64
	tp    *float64
}

// apply — якорь для планировщика и уровни. Стоящий TP оставляем, если
// цена до него ещё не дошла.
func (b *breakevenLevels) apply(pos models.Position, cfg models.UserConfig) (anchor, sl, tp float64, err error) {
	if b.tp != nil && beyond(pos.Side, *b.tp, b.price) {
		return b.price, b.stop, *b.tp, nil
	}
	_, tp, err = risk.Levels(pos.Side, b.price, pos.ATR, cfg)
	if err != nil {
		return 0, 0, 0, err
	}
	return b.price, b.stop, tp, nil
}

// beyond — px дальше ref в сторону прибыли позиции.
func beyond(side models.Side, px, ref float64) bool {
	if side == models.SideShort {
		return px < ref
	}
	return px > ref
}

// ROI — доход на маржу: pnl / (notional / leverage).
func ROI(p models.Position, price float64, leverage int) float64 {
	if p.EntryPrice <= 0 || p.Quantity <= 0 || price <= 0 {
		return 0
	}
	if leverage <= 0 {
		leverage = 1
	}
	margin := p.EntryPrice * p.Quantity / float64(leverage)
	return closePnL(p, price) / margin
}

func BreakevenStop(p models.Position) float64 {
	if p.Side == models.SideShort {
		return p.EntryPrice * (1 - BreakevenBuffer)
	}
	return p.EntryPrice * (1 + BreakevenBuffer)
}

// AtBreakeven — стоп уже не хуже цены входа.
func AtBreakeven(p models.Position) bool {
	return p.StopLoss != nil && *p.StopLoss > 0 && !beyond(p.Side, p.EntryPrice, *p.StopLoss)
}

// Breakeven переносит SL в безубыток, когда доход на маржу по цене price
// достиг порога пользователя. false — переносить не нужно или не вышло.
func (s *UserSession) Breakeven(ctx context.Context, pos models.Position, price float64) (models.ExecutionResult, bool) {
	cfg := s.Config()
	if cfg.BreakevenROI <= 0 || AtBreakeven(pos) {
		return models.ExecutionResult{}, false
	}
	roi := ROI(pos, price, cfg.Leverage)
	if roi < cfg.BreakevenROI {
		return models.ExecutionResult{}, false
	}
	stop := BreakevenStop(pos)
	// цена уже у уровня безубытка: такой стоп сработал бы сразу
	if !beyond(pos.Side, price, stop) {
		return models.ExecutionResult{}, false
	}

	s.log.Info("move stop to breakeven",
		zap.String("exchange", string(pos.Exchange)),
		zap.String("symbol", pos.Symbol),
		zap.Float64("roi", roi),
		zap.Float64("stop", stop))

	t := s.reprotect(ctx, pos.Exchange, pos.Symbol, pos.ATR, &breakevenLevels{price: price, stop: stop, tp: pos.TakeProfit})
	res := s.finishManual(ctx, t)
	return res, res.Status == models.StatusSuccess
}
