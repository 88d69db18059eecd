package helper

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// PosKey — ключ позиции в рамках одного владельца: "BYBIT:BTCUSDT".
func PosKey(exchange, symbol string) string { return exchange + ":" + symbol }

func SplitPosKey(key string) (exchange string, symbol string, ok bool) {
	// ожидаем формат "exchange:symbol"
	i := strings.IndexByte(key, ':')
	if i <= 0 || i >= len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	t := decimal.NewFromFloat(tick)
	steps := decimal.NewFromFloat(px).Div(t).Floor()
	f, _ := steps.Mul(t).Float64()
	return f
}

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	t := decimal.NewFromFloat(tick)
	steps := decimal.NewFromFloat(px).Div(t).Ceil()
	f, _ := steps.Mul(t).Float64()
	return f
}

// RoundToTick — к ближайшему тику.
func RoundToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	t := decimal.NewFromFloat(tick)
	steps := decimal.NewFromFloat(px).Div(t).Round(0)
	f, _ := steps.Mul(t).Float64()
	return f
}

// FloorToStep режет количество вниз под шаг лота и точность.
func FloorToStep(qty, step float64, precision int) float64 {
	d := decimal.NewFromFloat(qty)
	if step > 0 {
		s := decimal.NewFromFloat(step)
		d = d.Div(s).Floor().Mul(s)
	}
	if precision >= 0 {
		d = d.Truncate(int32(precision))
	}
	f, _ := d.Float64()
	return f
}

// Decimals — число знаков после запятой у шага (0.001 -> 3).
func Decimals(step float64) int {
	if step <= 0 {
		return 8
	}
	e := decimal.NewFromFloat(step).Exponent()
	if e >= 0 {
		return 0
	}
	return int(-e)
}

// FormatByStep — строка для биржи без экспоненты и лишних знаков.
func FormatByStep(v, step float64) string {
	return decimal.NewFromFloat(v).StringFixed(int32(Decimals(step)))
}

// Ticks — сколько тиков между двумя ценами.
func Ticks(a, b, tick float64) float64 {
	if tick <= 0 {
		return math.Abs(a - b)
	}
	d := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Abs().Div(decimal.NewFromFloat(tick))
	f, _ := d.Float64()
	return f
}
