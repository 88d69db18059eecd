package router

import (
	"fmt"

	"nexus_bot/internal/models"
)

// Prices — последняя известная цена, без похода на биржу.
type Prices interface {
	Get(ex models.Exchange, symbol string) (float64, bool)
}

// PositionStatus — позиция из учёта с оценкой PnL по последней цене.
type PositionStatus struct {
	models.Position
	LastPrice        float64
	UnrealizedPnl    float64
	UnrealizedPnlPct float64
}

// StatusForUser возвращает позиции из теневого учёта (без запроса на биржу).
func (r *Router) StatusForUser(userID int64, prices Prices) ([]PositionStatus, error) {
	sess, ok := r.GetSession(userID)
	if !ok {
		return nil, fmt.Errorf("бот не запущен для пользователя %d", userID)
	}

	positions := sess.Positions()
	out := make([]PositionStatus, 0, len(positions))
	for _, p := range positions {
		st := PositionStatus{Position: p}
		if prices != nil {
			if px, ok := prices.Get(p.Exchange, p.Symbol); ok {
				st.LastPrice = px
			}
		}
		// pnl (оценка по последней цене)
		if p.EntryPrice > 0 && st.LastPrice > 0 && p.Quantity > 0 {
			st.UnrealizedPnl = (st.LastPrice - p.EntryPrice) * p.SignedQty()
			st.UnrealizedPnlPct = st.UnrealizedPnl / (p.EntryPrice * p.Quantity) * 100
		}
		out = append(out, st)
	}
	return out, nil
}
