// Package risk — расчёт объёма и уровней SL/TP, circuit breaker по убыткам.
package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"nexus_bot/internal/helper"
	"nexus_bot/internal/models"
)

type Plan struct {
	Quantity     float64
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	StopDistance float64
	Leverage     int
	Trailing     *models.TrailingSpec
}

// Protection — уровни в виде плана защиты для планировщика.
func (p Plan) Protection() models.ProtectionPlan {
	return models.ProtectionPlan{StopLoss: p.StopLoss, TakeProfit: p.TakeProfit, Trailing: p.Trailing}
}

type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// EffectiveLeverage — шаг 1: min(настроенное, разрешённое), не меньше 1.
func EffectiveLeverage(cfg models.UserConfig) int {
	lev := cfg.Leverage
	if cfg.MaxLeverageAllowed > 0 && cfg.MaxLeverageAllowed < lev {
		lev = cfg.MaxLeverageAllowed
	}
	if lev < 1 {
		lev = 1
	}
	return lev
}

// EffectiveCapitalFraction — шаг 2.
func EffectiveCapitalFraction(cfg models.UserConfig) float64 {
	f := cfg.CapitalFraction
	if cfg.MaxCapitalFractionAllowed > 0 && cfg.MaxCapitalFractionAllowed < f {
		f = cfg.MaxCapitalFractionAllowed
	}
	return math.Max(f, 0)
}

// ComputePlan — объём и уровни для нового входа по цене price.
func (e *Engine) ComputePlan(sig models.Signal, equity models.Balance, price float64, info models.SymbolInfo, cfg models.UserConfig) (Plan, error) {
	if !sig.Side.Valid() {
		return Plan{}, fmt.Errorf("sizing %s: invalid side %q: %w", sig.Symbol, sig.Side, models.ErrSizingDefect)
	}
	if price <= 0 {
		return Plan{}, fmt.Errorf("sizing %s: price %.8f: %w", sig.Symbol, price, models.ErrMarketDataUnavailable)
	}

	lev := EffectiveLeverage(cfg)
	frac := EffectiveCapitalFraction(cfg)

	p := decimal.NewFromFloat(price)
	margin := decimal.NewFromFloat(equity.Available).Mul(decimal.NewFromFloat(frac))
	capitalQty := margin.Mul(decimal.NewFromInt(int64(lev))).Div(p)

	stopDist := StopDistance(price, sig.ATR, cfg)
	if stopDist <= 0 {
		return Plan{}, fmt.Errorf("sizing %s: zero stop distance: %w", sig.Symbol, models.ErrSizingDefect)
	}
	riskQty := decimal.NewFromFloat(equity.Total).
		Mul(decimal.NewFromFloat(cfg.RiskFraction)).
		Div(decimal.NewFromFloat(stopDist))

	qty := decimal.Min(capitalQty, riskQty).InexactFloat64()
	qty = helper.FloorToStep(qty, info.StepSize, info.QuantityPrecision)

	notional := qty * price
	if qty <= 0 || qty < info.MinQty || notional < info.MinNotional {
		return Plan{}, fmt.Errorf("sizing %s: qty %.8f notional %.4f < min %.4f: %w",
			sig.Symbol, qty, notional, info.MinNotional, models.ErrInsufficientNotional)
	}

	sl, tp, err := Levels(sig.Side, price, sig.ATR, cfg)
	if err != nil {
		return Plan{}, fmt.Errorf("sizing %s: %w", sig.Symbol, err)
	}

	return Plan{
		Quantity:     qty,
		EntryPrice:   price,
		StopLoss:     sl,
		TakeProfit:   tp,
		StopDistance: stopDist,
		Leverage:     lev,
		Trailing:     Trailing(tp, cfg),
	}, nil
}

// StopDistance — шаг 4: ATR*multiplier с потолком MaxStopPct, без ATR — FallbackStopPct.
func StopDistance(price float64, atr *float64, cfg models.UserConfig) float64 {
	p := decimal.NewFromFloat(price)
	pct := func(v float64) decimal.Decimal {
		return p.Mul(decimal.NewFromFloat(v)).Div(decimal.NewFromInt(100))
	}

	if atr != nil && *atr > 0 {
		mult := cfg.AtrMultiplier
		if mult <= 0 {
			mult = 1
		}
		d := decimal.NewFromFloat(*atr).Mul(decimal.NewFromFloat(mult))
		if cfg.MaxStopPct > 0 {
			d = decimal.Min(d, pct(cfg.MaxStopPct))
		}
		return d.InexactFloat64()
	}
	return pct(cfg.FallbackStopPct).InexactFloat64()
}

// Levels — единственный расчёт SL/TP и для нового входа, и для обновления
// защиты существующей позиции: TP = стоп * TakeProfitRatio.
func Levels(side models.Side, entry float64, atr *float64, cfg models.UserConfig) (sl, tp float64, err error) {
	dist := decimal.NewFromFloat(StopDistance(entry, atr, cfg))
	tpDist := dist.Mul(decimal.NewFromFloat(cfg.TakeProfitRatio))
	e := decimal.NewFromFloat(entry)

	switch side {
	case models.SideLong:
		sl, tp = e.Sub(dist).InexactFloat64(), e.Add(tpDist).InexactFloat64()
	case models.SideShort:
		sl, tp = e.Add(dist).InexactFloat64(), e.Sub(tpDist).InexactFloat64()
	}
	if err := CheckDirection(side, entry, sl, tp); err != nil {
		return 0, 0, err
	}
	return sl, tp, nil
}

// CheckDirection — шаг 8: лонг sl < entry < tp, шорт tp < entry < sl.
func CheckDirection(side models.Side, entry, sl, tp float64) error {
	ok := false
	switch side {
	case models.SideLong:
		ok = sl > 0 && sl < entry && entry < tp
	case models.SideShort:
		ok = tp > 0 && tp < entry && entry < sl
	}
	if !ok {
		return fmt.Errorf("%s entry=%.8f sl=%.8f tp=%.8f: %w", side, entry, sl, tp, models.ErrSizingDefect)
	}
	return nil
}

// Trailing активируется на уровне TP.
func Trailing(tp float64, cfg models.UserConfig) *models.TrailingSpec {
	if !cfg.TrailingEnabled || cfg.TrailingCallbackPct <= 0 {
		return nil
	}
	return &models.TrailingSpec{ActivationPrice: tp, CallbackPct: cfg.TrailingCallbackPct}
}
