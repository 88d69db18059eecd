package sessions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/helper"
	"nexus_bot/internal/models"
)

// RefreshPositions сверяет учёт с биржей ex. Биржа — источник правды:
// чего на ней нет, удаляется из учёта и возвращается как закрытое.
func (s *UserSession) RefreshPositions(ctx context.Context, ex models.Exchange) ([]models.Position, error) {
	a, err := s.Bridge().On(ex)
	if err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("exchange", string(ex)))

	cctx, cancel := s.timeout(ctx)
	positions, err := a.GetPositions(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("refresh %s positions: %w", ex, err)
	}

	cctx, cancel = s.timeout(ctx)
	if bal, err := a.GetBalance(cctx); err == nil {
		bal.UpdatedAt = time.Now()
		s.deps.Ledger.UpdateBalance(s.UserID, ex, bal)
	} else {
		log.Warn("refresh balance", zap.Error(err))
	}
	cancel()

	// сессия не должна править позицию, пока по ней идёт исполнение
	s.execMu.Lock()
	defer s.execMu.Unlock()

	seen := make(map[string]bool, len(positions))
	for _, p := range positions {
		if p.Quantity <= 0 {
			continue
		}
		seen[helper.PosKey(string(ex), p.Symbol)] = true
		p.Owner = s.UserID
		p.Exchange = ex

		if stored, ok := s.deps.Ledger.GetPosition(s.UserID, ex, p.Symbol); ok && stored.Side == p.Side {
			p.StopLoss, p.TakeProfit, p.Trailing = stored.StopLoss, stored.TakeProfit, stored.Trailing
			p.ProtectionIncomplete = stored.ProtectionIncomplete
			p.ATR = stored.ATR
			p.OpenedAt = stored.OpenedAt
		} else {
			// позиция не из этого процесса: защиту смотрим по открытым ордерам
			s.adoptProtection(ctx, a, &p)
		}
		if err := s.deps.Ledger.UpdatePosition(s.UserID, p); err != nil {
			log.Error("ledger write on refresh", zap.Error(err))
		}
	}

	var closed []models.Position
	for _, p := range s.deps.Ledger.Positions(s.UserID) {
		if p.Exchange != ex || seen[helper.PosKey(string(ex), p.Symbol)] {
			continue
		}
		s.deps.Ledger.RemovePosition(s.UserID, ex, p.Symbol)
		closed = append(closed, p)

		// цену выхода не знаем, оцениваем по последней
		cctx, cancel := s.timeout(ctx)
		last, err := a.GetLastPrice(cctx, p.Symbol)
		cancel()
		if err != nil {
			log.Warn("last price for closed position", zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}
		pnl := closePnL(p, last)
		log.Info("position closed on exchange", zap.String("symbol", p.Symbol), zap.Float64("pnl_estimate", pnl))
		if s.recordClose(pnl) && s.deps.Notifier != nil {
			s.deps.Notifier.Send(ctx, s.UserID, "🛑 Серия убытков: автоторговля переведена в COPILOT до /reset")
		}
	}
	return closed, nil
}

func (s *UserSession) adoptProtection(ctx context.Context, a exchange.Adapter, p *models.Position) {
	cctx, cancel := s.timeout(ctx)
	defer cancel()
	open, err := a.GetOpenOrders(cctx, p.Symbol)
	if err != nil {
		p.ProtectionIncomplete = true
		return
	}
	for _, o := range open {
		switch o.Type {
		case models.OrderStop:
			p.StopLoss = models.Float(o.TriggerPrice)
		case models.OrderTakeProfit:
			p.TakeProfit = models.Float(o.TriggerPrice)
		}
	}
	p.ProtectionIncomplete = p.StopLoss == nil || p.TakeProfit == nil
}
