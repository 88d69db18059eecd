// Package market — кеш последних цен и поток mark price.
package market

import (
	"sync"
	"time"

	"nexus_bot/internal/helper"
	"nexus_bot/internal/models"
)

type quote struct {
	price float64
	at    time.Time
}

// PriceCache — последняя цена по (биржа, символ). Старше ttl считается
// отсутствующей.
type PriceCache struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.RWMutex
	quotes map[string]quote

	hist *History
}

func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{ttl: ttl, now: time.Now, quotes: make(map[string]quote)}
}

// Track — каждая принятая цена попадает ещё и в историю.
func (c *PriceCache) Track(h *History) { c.hist = h }

func (c *PriceCache) Put(ex models.Exchange, symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	if at.IsZero() {
		at = c.now()
	}
	key := helper.PosKey(string(ex), symbol)

	c.mu.Lock()
	// старый кадр после нового не должен откатить цену
	fresh := true
	if q, ok := c.quotes[key]; !ok || !at.Before(q.at) {
		c.quotes[key] = quote{price: price, at: at}
	} else {
		fresh = false
	}
	c.mu.Unlock()

	if fresh && c.hist != nil {
		c.hist.Record(symbol, price, at)
	}
}

// Get — свежая цена или false.
func (c *PriceCache) Get(ex models.Exchange, symbol string) (float64, bool) {
	c.mu.RLock()
	q, ok := c.quotes[helper.PosKey(string(ex), symbol)]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.ttl > 0 && c.now().Sub(q.at) > c.ttl {
		return 0, false
	}
	return q.price, true
}

func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
