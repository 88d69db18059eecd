package market

import (
	"context"
	"time"

	"nexus_bot/internal/exchange"
)

// CachedAdapter отдаёт цену из кеша, пока она свежая. Остальные операции
// идут в адаптер как есть.
type CachedAdapter struct {
	exchange.Adapter
	cache *PriceCache
}

func WithCache(a exchange.Adapter, c *PriceCache) *CachedAdapter {
	return &CachedAdapter{Adapter: a, cache: c}
}

func (a *CachedAdapter) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	if px, ok := a.cache.Get(a.Name(), symbol); ok {
		return px, nil
	}
	px, err := a.Adapter.GetLastPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	a.cache.Put(a.Name(), symbol, px, time.Now())
	return px, nil
}
