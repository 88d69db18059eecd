// Package protection строит защитные ордера (SL, TP, трейлинг) под конкретную биржу.
package protection

import (
	"fmt"

	"github.com/shopspring/decimal"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/helper"
	"nexus_bot/internal/models"
)

const (
	WorkingMarkPrice = "MARK_PRICE"
	WorkingLastPrice = "LAST_PRICE"
)

// Step — один шаг плана. CancelAll снимает старые ордера по символу,
// иначе Order надо выставить.
type Step struct {
	Exchange  models.Exchange
	Symbol    string
	CancelAll bool
	Order     models.OrderRequest
}

type Input struct {
	Exchange   models.Exchange
	Symbol     string
	Side       models.Side
	EntryPrice float64
	Quantity   float64
	Protection models.ProtectionPlan
	Info       models.SymbolInfo
	// пусто = MARK_PRICE
	WorkingType string
}

// Planner без состояния, безопасен для конкурентного использования.
type Planner struct {
	// на сколько тиков отодвигать триггер, если округление схлопнуло
	// расстояние до входа
	NudgeTicks int
}

func New(nudgeTicks int) Planner {
	if nudgeTicks <= 0 {
		nudgeTicks = 1
	}
	return Planner{NudgeTicks: nudgeTicks}
}

// Plan: cancel-all, SL, TP, затем трейлинг. Все шаги на одной бирже.
func (p Planner) Plan(in Input) ([]Step, error) {
	if !in.Side.Valid() {
		return nil, fmt.Errorf("protection %s: invalid side %q: %w", in.Symbol, in.Side, models.ErrInvalidOrder)
	}
	if in.EntryPrice <= 0 || in.Quantity <= 0 {
		return nil, fmt.Errorf("protection %s: entry %.8f qty %.8f: %w", in.Symbol, in.EntryPrice, in.Quantity, models.ErrInvalidOrder)
	}
	if in.WorkingType == "" {
		in.WorkingType = WorkingMarkPrice
	}

	sl, tp, err := p.Levels(in.Side, in.EntryPrice, in.Protection.StopLoss, in.Protection.TakeProfit, in.Info.TickSize)
	if err != nil {
		return nil, fmt.Errorf("protection %s: %w", in.Symbol, err)
	}

	steps := []Step{{Exchange: in.Exchange, Symbol: in.Symbol, CancelAll: true}}
	steps = append(steps,
		Step{Exchange: in.Exchange, Symbol: in.Symbol, Order: p.trigger(in, models.OrderStop, sl)},
		Step{Exchange: in.Exchange, Symbol: in.Symbol, Order: p.trigger(in, models.OrderTakeProfit, tp)},
	)

	if tr := in.Protection.Trailing; tr != nil {
		req, err := p.trailing(in, *tr)
		if err != nil {
			return nil, fmt.Errorf("protection %s: %w", in.Symbol, err)
		}
		steps = append(steps, Step{Exchange: in.Exchange, Symbol: in.Symbol, Order: req})
	}
	return steps, nil
}

// Levels округляет SL/TP к тику и держит их по правильную сторону от входа:
// SL дальше от входа (вниз для лонга), TP — тоже наружу. Если после
// округления расстояние меньше NudgeTicks тиков, отодвигаем.
func (p Planner) Levels(side models.Side, entry, sl, tp, tick float64) (float64, float64, error) {
	if sl <= 0 || tp <= 0 {
		return 0, 0, fmt.Errorf("empty trigger sl=%.8f tp=%.8f: %w", sl, tp, models.ErrInvalidOrder)
	}
	nudge := p.NudgeTicks
	if nudge <= 0 {
		nudge = 1
	}
	gap := decimal.NewFromFloat(tick).Mul(decimal.NewFromInt(int64(nudge)))
	e := decimal.NewFromFloat(entry)

	var slR, tpR float64
	switch side {
	case models.SideLong:
		slR = helper.RoundDownToTick(sl, tick)
		if limit := e.Sub(gap); decimal.NewFromFloat(slR).GreaterThan(limit) {
			slR = helper.RoundDownToTick(limit.InexactFloat64(), tick)
		}
		tpR = helper.RoundUpToTick(tp, tick)
		if limit := e.Add(gap); decimal.NewFromFloat(tpR).LessThan(limit) {
			tpR = helper.RoundUpToTick(limit.InexactFloat64(), tick)
		}
	case models.SideShort:
		slR = helper.RoundUpToTick(sl, tick)
		if limit := e.Add(gap); decimal.NewFromFloat(slR).LessThan(limit) {
			slR = helper.RoundUpToTick(limit.InexactFloat64(), tick)
		}
		tpR = helper.RoundDownToTick(tp, tick)
		if limit := e.Sub(gap); decimal.NewFromFloat(tpR).GreaterThan(limit) {
			tpR = helper.RoundDownToTick(limit.InexactFloat64(), tick)
		}
	}
	if slR <= 0 || tpR <= 0 {
		return 0, 0, fmt.Errorf("trigger collapsed to zero sl=%.8f tp=%.8f: %w", slR, tpR, models.ErrInvalidOrder)
	}
	return slR, tpR, nil
}

func (p Planner) trigger(in Input, typ models.OrderType, px float64) models.OrderRequest {
	req := base(in, typ)
	req.Params.TriggerPrice = px
	req.Params.WorkingType = in.WorkingType
	// у Binance и OKX направление следует из типа ордера,
	// Bybit без явного triggerDirection условный ордер не примет
	if in.Exchange == models.ExchangeBybit {
		req.Params.TriggerDirection = TriggerDirection(in.Side, typ)
	}
	return req
}

func (p Planner) trailing(in Input, tr models.TrailingSpec) (models.OrderRequest, error) {
	act := helper.RoundToTick(tr.ActivationPrice, in.Info.TickSize)
	if act <= 0 || tr.CallbackPct <= 0 {
		return models.OrderRequest{}, fmt.Errorf("trailing activation %.8f callback %.4f: %w", act, tr.CallbackPct, models.ErrInvalidOrder)
	}

	req := base(in, models.OrderTrailingStop)
	req.Params.ActivationPrice = act
	req.Params.WorkingType = in.WorkingType
	switch in.Exchange {
	case models.ExchangeBybit:
		// Bybit ждёт абсолютную дистанцию, не проценты
		d := TrailingDistance(act, tr.CallbackPct)
		d = helper.RoundToTick(d, in.Info.TickSize)
		if d < in.Info.TickSize {
			d = in.Info.TickSize
		}
		req.Params.TrailingDistance = d
	default:
		req.Params.CallbackPct = tr.CallbackPct
	}
	return req, nil
}

func base(in Input, typ models.OrderType) models.OrderRequest {
	prefix := map[models.OrderType]string{
		models.OrderStop:         "sl",
		models.OrderTakeProfit:   "tp",
		models.OrderTrailingStop: "tr",
	}[typ]
	return models.OrderRequest{
		Exchange:     in.Exchange,
		Symbol:       in.Symbol,
		Side:         in.Side.ExitSide(),
		PositionSide: in.Side,
		Type:         typ,
		Quantity:     in.Quantity,
		ReduceOnly:   true,
		ClientID:     exchange.NewClientOrderID(prefix),
	}
}

// TriggerDirection: SL лонга — падение ниже, TP лонга — рост выше; для шорта наоборот.
func TriggerDirection(side models.Side, typ models.OrderType) models.TriggerDirection {
	falls := typ == models.OrderStop || typ == models.OrderTrailingStop
	if side == models.SideShort {
		falls = !falls
	}
	if falls {
		return models.TriggerFallsBelow
	}
	return models.TriggerRisesAbove
}

// TrailingDistance = activation * pct / 100.
func TrailingDistance(activation, callbackPct float64) float64 {
	return decimal.NewFromFloat(activation).
		Mul(decimal.NewFromFloat(callbackPct)).
		Div(decimal.NewFromInt(100)).
		InexactFloat64()
}

// Missing — какие из запрошенных ордеров не видны среди открытых.
// Сравниваем по типу: на позицию по одному SL/TP/трейлингу.
func Missing(requested []Step, open []models.Order) []Step {
	have := make(map[models.OrderType]bool, len(open))
	for _, o := range open {
		have[o.Type] = true
	}
	var out []Step
	for _, s := range requested {
		if s.CancelAll {
			continue
		}
		if !have[s.Order.Type] {
			out = append(out, s)
		}
	}
	return out
}

// Orders — только размещаемые шаги, без cancel-all.
func Orders(steps []Step) []models.OrderRequest {
	out := make([]models.OrderRequest, 0, len(steps))
	for _, s := range steps {
		if !s.CancelAll {
			out = append(out, s.Order)
		}
	}
	return out
}
