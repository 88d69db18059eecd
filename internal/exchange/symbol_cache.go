package exchange

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"nexus_bot/internal/models"
)

type SymbolFetcher func(ctx context.Context, symbol string) (models.SymbolInfo, error)

// SymbolCache — метаданные символов на процесс. Параллельные промахи по
// одному символу схлопываются в один запрос.
type SymbolCache struct {
	mu    sync.RWMutex
	items map[string]models.SymbolInfo
	group singleflight.Group
	fetch SymbolFetcher
}

func NewSymbolCache(fetch SymbolFetcher) *SymbolCache {
	return &SymbolCache{
		items: make(map[string]models.SymbolInfo),
		fetch: fetch,
	}
}

func (c *SymbolCache) Get(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	c.mu.RLock()
	info, ok := c.items[symbol]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	v, err, _ := c.group.Do(symbol, func() (any, error) {
		info, err := c.fetch(ctx, symbol)
		if err != nil {
			return models.SymbolInfo{}, err
		}
		c.mu.Lock()
		c.items[symbol] = info
		c.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return models.SymbolInfo{}, err
	}
	return v.(models.SymbolInfo), nil
}

// Invalidate — после отказа биржи по точности.
func (c *SymbolCache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.items, symbol)
	c.mu.Unlock()
}

func (c *SymbolCache) Refresh(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	c.Invalidate(symbol)
	return c.Get(ctx, symbol)
}

func (c *SymbolCache) Put(info models.SymbolInfo) {
	c.mu.Lock()
	c.items[info.Symbol] = info
	c.mu.Unlock()
}
