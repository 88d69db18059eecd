package cooldown

import (
	"sync"
	"time"
)

const (
	historySignals = 20
	historyATR     = 10
)

// Dynamic масштабирует базовый кулдаун по частоте сигналов и волатильности.
// volFactor — последний ATR к среднему по истории, 1 — норма.
func Dynamic(base time.Duration, signalsPerHour, volFactor float64) time.Duration {
	d := base
	switch {
	case signalsPerHour > 4:
		d = base * 3
	case signalsPerHour < 1:
		d = base * 6 / 10
	}
	switch {
	case volFactor > 1.5:
		d = d * 8 / 10
	case volFactor > 0 && volFactor < 0.7:
		d = d * 3 / 2
	}
	return d
}

type history struct {
	signals []time.Time
	atrs    []float64
}

// Tracker копит историю сигналов и ATR по ключу для Dynamic.
type Tracker struct {
	mu sync.Mutex
	h  map[string]*history
}

func NewTracker() *Tracker {
	return &Tracker{h: make(map[string]*history)}
}

// Observe записывает сигнал и возвращает частоту в час и фактор волатильности.
func (t *Tracker) Observe(key string, at time.Time, atr *float64) (perHour, volFactor float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.h[key]
	if !ok {
		h = &history{}
		t.h[key] = h
	}
	h.signals = appendBounded(h.signals, at, historySignals)
	if atr != nil && *atr > 0 {
		h.atrs = appendBounded(h.atrs, *atr, historyATR)
	}
	return frequency(h.signals, at), volatility(h.atrs)
}

func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	delete(t.h, key)
	t.mu.Unlock()
}

func appendBounded[T any](s []T, v T, max int) []T {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

// сигналы за последний час, экстраполированные на час
func frequency(signals []time.Time, now time.Time) float64 {
	hourAgo := now.Add(-time.Hour)
	var recent []time.Time
	for _, ts := range signals {
		if ts.After(hourAgo) {
			recent = append(recent, ts)
		}
	}
	if len(recent) < 2 {
		return 0
	}
	span := now.Sub(recent[0])
	if span <= 0 {
		return 0
	}
	return float64(len(recent)) / span.Hours()
}

func volatility(atrs []float64) float64 {
	if len(atrs) < 3 {
		return 1
	}
	var sum float64
	for _, v := range atrs {
		sum += v
	}
	avg := sum / float64(len(atrs))
	if avg == 0 {
		return 1
	}
	return atrs[len(atrs)-1] / avg
}
