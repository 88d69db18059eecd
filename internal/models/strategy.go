package models

type Signal struct {
	Symbol     string   `json:"symbol"`
	Side       Side     `json:"side"`
	Confidence float64  `json:"confidence"` // [0,1]
	Strategy   string   `json:"strategy"`
	ATR        *float64 `json:"atr,omitempty"` // nil — ATR не посчитан
	Reason     string   `json:"reason,omitempty"`
}

// Side — сторона позиции.
type Side string

const (
	SideNone  Side = ""
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	}
	return SideNone
}

// EntrySide — сторона ордера, открывающего позицию.
func (s Side) EntrySide() OrderSide {
	if s == SideShort {
		return OrderSell
	}
	return OrderBuy
}

// ExitSide — сторона закрывающих (защитных) ордеров.
func (s Side) ExitSide() OrderSide {
	if s == SideShort {
		return OrderBuy
	}
	return OrderSell
}

func (s Side) Valid() bool { return s == SideLong || s == SideShort }
