package models

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrRouting               = errors.New("no eligible exchange")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidOrder          = errors.New("invalid order")
	ErrMarketDataUnavailable = errors.New("market data unavailable")
	ErrProtectionIncomplete  = errors.New("protection incomplete")
	ErrDuplicateOrderRisk    = errors.New("duplicate order risk")
	ErrInsufficientNotional  = errors.New("insufficient notional")
	ErrSizingDefect          = errors.New("sizing defect")
	ErrCooldownActive        = errors.New("cooldown active")
	ErrCircuitOpen           = errors.New("circuit breaker open")
	ErrStrategyDisabled      = errors.New("strategy or asset group disabled")
	ErrAssetDisabled         = errors.New("asset blacklisted")
	ErrCorrelationLimit      = errors.New("correlated with open position")

	// ошибки адаптеров
	ErrAuth                = errors.New("authentication failed")
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrInvalidPrecision    = errors.New("invalid precision")
	ErrLeverageNotModified = errors.New("leverage not modified")
	ErrNoPosition          = errors.New("no open position")
	ErrNetwork             = errors.New("network error")
	ErrRateLimited         = errors.New("rate limited")
	ErrTimeout             = errors.New("request timeout")
)

// ExchangeError — отказ биржи с исходным кодом. Kind — один из Err* выше.
type ExchangeError struct {
	Exchange Exchange
	Op       string
	Code     string
	Msg      string
	Kind     error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s %s: code=%s msg=%s (%v)", e.Exchange, e.Op, e.Code, e.Msg, e.Kind)
}

func (e *ExchangeError) Unwrap() error { return e.Kind }

// Retryable — только сетевые ошибки и лимиты, auth и параметры не ретраим.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrInvalidOrder) ||
		errors.Is(err, ErrInvalidSymbol) || errors.Is(err, ErrInvalidPrecision) {
		return false
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrMarketDataUnavailable) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && !ne.Timeout()
}

// UnknownOutcome — ответ потерян, запрос мог пройти на стороне биржи.
func UnknownOutcome(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
