package helper

import "testing"

func TestRoundToTick(t *testing.T) {
	cases := []struct {
		name     string
		px, tick float64
		down, up float64
		nearest  float64
	}{
		{"btc", 64123.47, 0.1, 64123.4, 64123.5, 64123.5},
		{"exact", 100.0, 0.5, 100.0, 100.0, 100.0},
		{"small tick", 0.000012345, 0.0000001, 0.0000123, 0.0000124, 0.0000123},
		{"zero tick", 1.2345, 0, 1.2345, 1.2345, 1.2345},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := RoundDownToTick(c.px, c.tick); got != c.down {
				t.Errorf("down = %v, want %v", got, c.down)
			}
			if got := RoundUpToTick(c.px, c.tick); got != c.up {
				t.Errorf("up = %v, want %v", got, c.up)
			}
			if got := RoundToTick(c.px, c.tick); got != c.nearest {
				t.Errorf("nearest = %v, want %v", got, c.nearest)
			}
		})
	}
}

func TestFloorToStep(t *testing.T) {
	if got := FloorToStep(0.123456, 0.001, 3); got != 0.123 {
		t.Errorf("FloorToStep = %v, want 0.123", got)
	}
	if got := FloorToStep(17.9, 1, 0); got != 17 {
		t.Errorf("FloorToStep = %v, want 17", got)
	}
	// точность строже шага
	if got := FloorToStep(1.23456, 0.00001, 2); got != 1.23 {
		t.Errorf("FloorToStep = %v, want 1.23", got)
	}
}

func TestFormatByStep(t *testing.T) {
	if got := FormatByStep(0.1+0.2, 0.01); got != "0.30" {
		t.Errorf("FormatByStep = %q", got)
	}
	if got := FormatByStep(64000, 1); got != "64000" {
		t.Errorf("FormatByStep = %q", got)
	}
	if Decimals(0.0001) != 4 {
		t.Errorf("Decimals(0.0001) = %d", Decimals(0.0001))
	}
}

func TestPosKey(t *testing.T) {
	ex, sym, ok := SplitPosKey(PosKey("BYBIT", "BTCUSDT"))
	if !ok || ex != "BYBIT" || sym != "BTCUSDT" {
		t.Errorf("SplitPosKey = %q %q %v", ex, sym, ok)
	}
	if _, _, ok := SplitPosKey("broken"); ok {
		t.Error("expected !ok for key without separator")
	}
}
