package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"

	"nexus_bot/internal/models"
)

type RetryPolicy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
	Factor   float64
}

func DefaultRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, Min: 200 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
}

// Retry повторяет fn только на models.Retryable ошибках.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	return RetryIf(ctx, p, models.Retryable, fn)
}

// RetryIf — то же, но со своим предикатом. Для размещения ордеров ретраим
// только явный rate limit: на таймауте исход неизвестен.
func RetryIf[T any](ctx context.Context, p RetryPolicy, retryable func(error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	b := &backoff.Backoff{Min: p.Min, Max: p.Max, Factor: p.Factor, Jitter: true}

	var (
		v   T
		err error
	)
	for attempt := 1; ; attempt++ {
		v, err = fn(ctx)
		if err == nil || !retryable(err) || attempt >= p.Attempts {
			return v, err
		}
		t := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			t.Stop()
			return v, errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
}

// Do — Retry для операций без результата.
func Do(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func IsRateLimited(err error) bool { return errors.Is(err, models.ErrRateLimited) }
