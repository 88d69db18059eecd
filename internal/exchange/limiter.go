package exchange

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter ограничивает частоту запросов к одной бирже. nil — без лимита.
type Limiter struct {
	l *rate.Limiter
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.l.Wait(ctx)
}
