package models

import (
	"fmt"
	"time"
)

// Position — открытая позиция владельца на одной бирже по одному символу.
// Quantity всегда > 0, знак задаёт Side.
type Position struct {
	Owner      int64
	Exchange   Exchange
	Symbol     string
	Side       Side
	Quantity   float64
	EntryPrice float64

	StopLoss   *float64
	TakeProfit *float64
	Trailing   *TrailingSpec
	// ATR сигнала на входе, чтобы пересчёт защиты давал те же уровни
	ATR *float64

	// защита не подтверждена после ретрая, монитор попробует ещё раз
	ProtectionIncomplete bool

	OpenedAt  time.Time
	UpdatedAt time.Time
}

func (p Position) SignedQty() float64 {
	if p.Side == SideShort {
		return -p.Quantity
	}
	return p.Quantity
}

func (p Position) Validate() error {
	if !p.Side.Valid() {
		return fmt.Errorf("position %s: invalid side %q", p.Symbol, p.Side)
	}
	if p.Quantity < 0 {
		return fmt.Errorf("position %s: negative quantity %.8f", p.Symbol, p.Quantity)
	}
	return nil
}

type Balance struct {
	Total     float64
	Available float64
	UpdatedAt time.Time
}

type SymbolInfo struct {
	Symbol            string
	QuantityPrecision int
	PricePrecision    int
	TickSize          float64
	StepSize          float64
	MinQty            float64
	MinNotional       float64
	ContractValue     float64 // OKX ctVal, для остальных 1
}

type TrailingSpec struct {
	ActivationPrice float64
	CallbackPct     float64
}

// ProtectionPlan — что нужно выставить после входа.
type ProtectionPlan struct {
	StopLoss   float64
	TakeProfit float64
	Trailing   *TrailingSpec
}

func Float(v float64) *float64 { return &v }
