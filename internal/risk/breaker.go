package risk

import (
	"sync"
	"time"
)

// CircuitBreaker считает подряд идущие убыточные закрытия по владельцу.
// После Limit убытков автономное исполнение выключается до ручного Reset.
type CircuitBreaker struct {
	Limit int

	mu     sync.Mutex
	losses map[int64]int
	trips  map[int64]time.Time
}

func NewCircuitBreaker(limit int) *CircuitBreaker {
	return &CircuitBreaker{
		Limit:  limit,
		losses: make(map[int64]int),
		trips:  make(map[int64]time.Time),
	}
}

// RecordClose учитывает закрытую сделку; true — если именно она выбила предохранитель.
func (b *CircuitBreaker) RecordClose(owner int64, pnl float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pnl >= 0 {
		b.losses[owner] = 0
		return false
	}
	b.losses[owner]++
	if b.Limit > 0 && b.losses[owner] >= b.Limit {
		if _, already := b.trips[owner]; !already {
			b.trips[owner] = time.Now()
			return true
		}
	}
	return false
}

func (b *CircuitBreaker) Tripped(owner int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.trips[owner]
	return ok
}

func (b *CircuitBreaker) Losses(owner int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.losses[owner]
}

func (b *CircuitBreaker) Reset(owner int64) {
	b.mu.Lock()
	delete(b.losses, owner)
	delete(b.trips, owner)
	b.mu.Unlock()
}
