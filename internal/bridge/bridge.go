package bridge

import (
	"fmt"
	"sort"
	"sync"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/models"
)

// Bridge — адаптеры одного пользователя. Любая операция идёт через On(ex)
// с явной биржей, повторного выбора по ходу исполнения нет.
type Bridge struct {
	mu       sync.RWMutex
	adapters map[models.Exchange]exchange.Adapter
}

func New(adapters ...exchange.Adapter) *Bridge {
	b := &Bridge{adapters: make(map[models.Exchange]exchange.Adapter, len(adapters))}
	for _, a := range adapters {
		b.adapters[a.Name()] = a
	}
	return b
}

func (b *Bridge) Add(a exchange.Adapter) {
	b.mu.Lock()
	b.adapters[a.Name()] = a
	b.mu.Unlock()
}

// On — адаптер конкретной биржи.
func (b *Bridge) On(ex models.Exchange) (exchange.Adapter, error) {
	b.mu.RLock()
	a, ok := b.adapters[ex]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: adapter %s not configured", models.ErrRouting, ex)
	}
	return a, nil
}

// Available — подключённые биржи в порядке приоритета.
func (b *Bridge) Available() []models.Exchange {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Exchange, 0, len(b.adapters))
	for ex := range b.adapters {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

// Route — выбор биржи среди подключённых и сам адаптер.
func (b *Bridge) Route(symbol string, prefs *models.UserConfig) (models.Exchange, exchange.Adapter, error) {
	ex, err := Route(symbol, prefs, b.Available())
	if err != nil {
		return "", nil, err
	}
	a, err := b.On(ex)
	return ex, a, err
}

func rank(ex models.Exchange) int {
	for i, e := range models.ExchangePriority {
		if e == ex {
			return i
		}
	}
	return len(models.ExchangePriority)
}
