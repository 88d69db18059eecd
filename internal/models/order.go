package models

type OrderType string

const (
	OrderMarket       OrderType = "MARKET"
	OrderLimit        OrderType = "LIMIT"
	OrderStop         OrderType = "STOP"
	OrderTakeProfit   OrderType = "TAKE_PROFIT"
	OrderTrailingStop OrderType = "TRAILING_STOP"
)

// Protective — стоп, тейк или трейлинг.
func (t OrderType) Protective() bool {
	return t == OrderStop || t == OrderTakeProfit || t == OrderTrailingStop
}

type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// TriggerDirection — когда срабатывает условный ордер.
// Значения совпадают с кодировкой Bybit (1 — рост выше, 2 — падение ниже).
type TriggerDirection int

const (
	TriggerNone       TriggerDirection = 0
	TriggerRisesAbove TriggerDirection = 1
	TriggerFallsBelow TriggerDirection = 2
)

func (d TriggerDirection) String() string {
	switch d {
	case TriggerRisesAbove:
		return "rises_above"
	case TriggerFallsBelow:
		return "falls_below"
	}
	return "none"
}

// ProtectionParams — биржевые поля защитных ордеров, заполняет планировщик.
type ProtectionParams struct {
	TriggerPrice     float64
	TriggerDirection TriggerDirection
	ActivationPrice  float64
	CallbackPct      float64 // проценты, 2 => 2%
	TrailingDistance float64 // абсолютная дистанция в цене
	WorkingType      string  // MARK_PRICE / LAST_PRICE
}

type OrderRequest struct {
	Exchange     Exchange
	Symbol       string // каноничный тикер
	Side         OrderSide
	PositionSide Side
	Type         OrderType
	Quantity     float64
	Price        float64
	ReduceOnly   bool
	ClientID     string
	Params       ProtectionParams
}

type OrderResult struct {
	OrderID   string
	ClientID  string
	FillPrice float64 // 0 — биржа не вернула среднюю цену
	FilledQty float64
	Status    string
}

type Order struct {
	ID           string
	ClientID     string
	Symbol       string
	Type         OrderType
	Side         OrderSide
	Quantity     float64
	TriggerPrice float64
	ReduceOnly   bool
}
