package market

import (
	"sync"
	"time"
)

// History — короткая история цен по символу, одна точка на step. Биржа
// не важна: для корреляции хватает любой котировки.
type History struct {
	step time.Duration
	size int

	mu     sync.RWMutex
	series map[string]*series
}

type series struct {
	last   time.Time
	closes []float64
}

func NewHistory(step time.Duration, size int) *History {
	if step <= 0 {
		step = time.Minute
	}
	if size <= 0 {
		size = 50
	}
	return &History{step: step, size: size, series: make(map[string]*series)}
}

// Record кладёт цену. Внутри текущего шага обновляется последняя точка.
func (h *History) Record(symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.series[symbol]
	if !ok {
		s = &series{}
		h.series[symbol] = s
	}
	bucket := at.Truncate(h.step)
	switch {
	case len(s.closes) > 0 && bucket.Equal(s.last):
		s.closes[len(s.closes)-1] = price
		return
	case bucket.Before(s.last):
		return
	}
	s.last = bucket
	s.closes = append(s.closes, price)
	if len(s.closes) > h.size {
		s.closes = append(s.closes[:0], s.closes[len(s.closes)-h.size:]...)
	}
}

// Closes — копия точек, от старых к новым.
func (h *History) Closes(symbol string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.series[symbol]
	if !ok {
		return nil
	}
	out := make([]float64, len(s.closes))
	copy(out, s.closes)
	return out
}
