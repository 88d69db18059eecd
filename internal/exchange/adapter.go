// Package exchange — общий контракт биржевых адаптеров и инфраструктура
// вокруг него: ретраи, лимитер, кеш метаданных символов.
package exchange

import (
	"context"

	"nexus_bot/internal/models"
)

// Adapter — единый набор операций над одной биржей. Символы на входе и
// выходе каноничные (BTCUSDT), перевод в биржевой формат внутри адаптера.
type Adapter interface {
	Name() models.Exchange

	GetLastPrice(ctx context.Context, symbol string) (float64, error)
	GetSymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error

	GetBalance(ctx context.Context) (models.Balance, error)
}

// ClosePosition — reduce-only маркет на весь объём позиции.
func ClosePosition(ctx context.Context, a Adapter, pos models.Position) (models.OrderResult, error) {
	return a.PlaceOrder(ctx, models.OrderRequest{
		Exchange:     a.Name(),
		Symbol:       pos.Symbol,
		Side:         pos.Side.ExitSide(),
		PositionSide: pos.Side,
		Type:         models.OrderMarket,
		Quantity:     pos.Quantity,
		ReduceOnly:   true,
		ClientID:     NewClientOrderID("close"),
	})
}

// FindPosition ищет открытую позицию по символу в ответе биржи.
func FindPosition(ctx context.Context, a Adapter, symbol string) (models.Position, bool, error) {
	positions, err := a.GetPositions(ctx)
	if err != nil {
		return models.Position{}, false, err
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.Quantity > 0 {
			return p, true, nil
		}
	}
	return models.Position{}, false, nil
}
