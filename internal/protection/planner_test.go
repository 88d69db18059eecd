package protection

import (
	"errors"
	"testing"

	"nexus_bot/internal/models"
)

var btc = models.SymbolInfo{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001, QuantityPrecision: 3}

func TestTrailingDistanceConversion(t *testing.T) {
	if got := TrailingDistance(100.0, 2); got != 2.0 {
		t.Fatalf("distance = %v, want 2.0", got)
	}

	steps, err := New(1).Plan(Input{
		Exchange:   models.ExchangeBybit,
		Symbol:     "BTCUSDT",
		Side:       models.SideLong,
		EntryPrice: 99,
		Quantity:   0.5,
		Info:       btc,
		Protection: models.ProtectionPlan{
			StopLoss:   97,
			TakeProfit: 102,
			Trailing:   &models.TrailingSpec{ActivationPrice: 100.0, CallbackPct: 2},
		},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	tr := steps[len(steps)-1].Order
	if tr.Type != models.OrderTrailingStop {
		t.Fatalf("last step = %s", tr.Type)
	}
	if tr.Params.TrailingDistance != 2.0 {
		t.Errorf("bybit distance = %v, want 2.0", tr.Params.TrailingDistance)
	}
	if tr.Params.ActivationPrice != 100.0 {
		t.Errorf("activation = %v", tr.Params.ActivationPrice)
	}
}

func TestTrailingPercentForBinance(t *testing.T) {
	steps, err := New(1).Plan(Input{
		Exchange:   models.ExchangeBinance,
		Symbol:     "BTCUSDT",
		Side:       models.SideLong,
		EntryPrice: 99,
		Quantity:   0.5,
		Info:       btc,
		Protection: models.ProtectionPlan{StopLoss: 97, TakeProfit: 102, Trailing: &models.TrailingSpec{ActivationPrice: 100, CallbackPct: 2}},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	tr := steps[3].Order
	if tr.Params.CallbackPct != 2 || tr.Params.TrailingDistance != 0 {
		t.Fatalf("binance trailing params = %+v", tr.Params)
	}
}

func TestTriggerDirection(t *testing.T) {
	cases := []struct {
		side models.Side
		typ  models.OrderType
		want models.TriggerDirection
	}{
		{models.SideLong, models.OrderStop, models.TriggerFallsBelow},
		{models.SideLong, models.OrderTakeProfit, models.TriggerRisesAbove},
		{models.SideShort, models.OrderStop, models.TriggerRisesAbove},
		{models.SideShort, models.OrderTakeProfit, models.TriggerFallsBelow},
	}
	for _, tc := range cases {
		if got := TriggerDirection(tc.side, tc.typ); got != tc.want {
			t.Errorf("%s %s: got %s, want %s", tc.side, tc.typ, got, tc.want)
		}
	}
}

func TestPlanOrderAndExchangeTag(t *testing.T) {
	steps, err := New(1).Plan(Input{
		Exchange:   models.ExchangeBybit,
		Symbol:     "BTCUSDT",
		Side:       models.SideShort,
		EntryPrice: 100,
		Quantity:   0.5,
		Info:       btc,
		Protection: models.ProtectionPlan{StopLoss: 102, TakeProfit: 97},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(steps))
	}
	if !steps[0].CancelAll {
		t.Errorf("first step must cancel existing orders")
	}
	if steps[1].Order.Type != models.OrderStop || steps[2].Order.Type != models.OrderTakeProfit {
		t.Errorf("order = %s, %s", steps[1].Order.Type, steps[2].Order.Type)
	}
	for i, s := range steps {
		if s.Exchange != models.ExchangeBybit {
			t.Errorf("step %d exchange = %s", i, s.Exchange)
		}
		if !s.CancelAll {
			if s.Order.Exchange != models.ExchangeBybit {
				t.Errorf("step %d order exchange = %s", i, s.Order.Exchange)
			}
			if !s.Order.ReduceOnly || s.Order.Side != models.OrderBuy {
				t.Errorf("step %d must be reduce-only BUY: %+v", i, s.Order)
			}
			if s.Order.Params.TriggerPrice <= 0 {
				t.Errorf("step %d has empty trigger", i)
			}
		}
	}
	if d := steps[1].Order.Params.TriggerDirection; d != models.TriggerRisesAbove {
		t.Errorf("short SL direction = %s", d)
	}
}

func TestLevelsNudgeWhenRoundingCollapses(t *testing.T) {
	cases := []struct {
		name           string
		nudge          int
		side           models.Side
		entry, sl, tp  float64
		wantSL, wantTP float64
	}{
		{"long collapse", 1, models.SideLong, 100.0, 99.99, 100.01, 99.9, 100.1},
		{"short collapse", 1, models.SideShort, 100.0, 100.01, 99.99, 100.1, 99.9},
		{"long two ticks", 2, models.SideLong, 100.0, 100.0, 100.0, 99.8, 100.2},
		{"long untouched", 1, models.SideLong, 100.0, 97.04, 104.46, 97.0, 104.5},
	}
	for _, tc := range cases {
		sl, tp, err := Planner{NudgeTicks: tc.nudge}.Levels(tc.side, tc.entry, tc.sl, tc.tp, 0.1)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if sl != tc.wantSL || tp != tc.wantTP {
			t.Errorf("%s: got sl=%v tp=%v, want %v %v", tc.name, sl, tp, tc.wantSL, tc.wantTP)
		}
	}
}

func TestNeverEmitsEmptyTrigger(t *testing.T) {
	_, err := New(1).Plan(Input{
		Exchange:   models.ExchangeBinance,
		Symbol:     "BTCUSDT",
		Side:       models.SideLong,
		EntryPrice: 100,
		Quantity:   0.5,
		Info:       btc,
		Protection: models.ProtectionPlan{StopLoss: 97},
	})
	if !errors.Is(err, models.ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}

	_, err = New(1).Plan(Input{
		Exchange:   models.ExchangeBinance,
		Symbol:     "BTCUSDT",
		Side:       models.SideLong,
		EntryPrice: 100,
		Quantity:   0.5,
		Info:       btc,
		Protection: models.ProtectionPlan{StopLoss: 97, TakeProfit: 103, Trailing: &models.TrailingSpec{CallbackPct: 1}},
	})
	if !errors.Is(err, models.ErrInvalidOrder) {
		t.Fatalf("trailing without activation: err = %v", err)
	}
}

func TestMissing(t *testing.T) {
	steps, _ := New(1).Plan(Input{
		Exchange:   models.ExchangeBinance,
		Symbol:     "BTCUSDT",
		Side:       models.SideLong,
		EntryPrice: 100,
		Quantity:   0.5,
		Info:       btc,
		Protection: models.ProtectionPlan{StopLoss: 97, TakeProfit: 103},
	})
	open := []models.Order{{ID: "1", Type: models.OrderStop}}
	miss := Missing(steps, open)
	if len(miss) != 1 || miss[0].Order.Type != models.OrderTakeProfit {
		t.Fatalf("missing = %+v", miss)
	}
}
