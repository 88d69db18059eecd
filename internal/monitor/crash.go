package monitor

import (
	"fmt"
	"time"
)

// CrashEvent — резкое падение опорного инструмента за окно.
type CrashEvent struct {
	Symbol  string
	High    float64
	Price   float64
	DropPct float64
	At      time.Time
}

func (e CrashEvent) String() string {
	return fmt.Sprintf("%s -%.2f%% (%.2f → %.2f)", e.Symbol, e.DropPct, e.High, e.Price)
}

type sample struct {
	at    time.Time
	price float64
}

// CrashDetector держит цены за окно и сравнивает текущую с максимумом.
// После срабатывания молчит одно окно. Не потокобезопасен.
type CrashDetector struct {
	Symbol  string
	Window  time.Duration
	DropPct float64

	samples []sample
	firedAt time.Time
}

func NewCrashDetector(symbol string, window time.Duration, dropPct float64) *CrashDetector {
	return &CrashDetector{Symbol: symbol, Window: window, DropPct: dropPct}
}

func (d *CrashDetector) Observe(at time.Time, price float64) (CrashEvent, bool) {
	if price <= 0 || d.DropPct <= 0 {
		return CrashEvent{}, false
	}
	d.samples = append(d.samples, sample{at: at, price: price})

	cut := 0
	for cut < len(d.samples) && at.Sub(d.samples[cut].at) > d.Window {
		cut++
	}
	d.samples = d.samples[cut:]

	high := price
	for _, s := range d.samples {
		if s.price > high {
			high = s.price
		}
	}
	drop := (high - price) / high * 100
	if drop < d.DropPct {
		return CrashEvent{}, false
	}
	if !d.firedAt.IsZero() && at.Sub(d.firedAt) < d.Window {
		return CrashEvent{}, false
	}
	d.firedAt = at
	return CrashEvent{Symbol: d.Symbol, High: high, Price: price, DropPct: drop, At: at}, true
}
