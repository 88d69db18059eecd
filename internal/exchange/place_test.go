package exchange

import (
	"context"
	"errors"
	"strings"
	"testing"

	"nexus_bot/internal/models"
)

func TestPlaceWithSymbolRetryKeepsOrderType(t *testing.T) {
	var seen []string
	var types []models.OrderType
	req := models.OrderRequest{Symbol: "1000SHIBUSDT", Type: models.OrderStop, Quantity: 10}

	res, err := PlaceWithSymbolRetry(context.Background(), []string{"SHIB1000USDT", "1000SHIBUSDT"}, req,
		func(_ context.Context, wire string, r models.OrderRequest) (models.OrderResult, error) {
			seen = append(seen, wire)
			types = append(types, r.Type)
			if wire == "SHIB1000USDT" {
				return models.OrderResult{}, &models.ExchangeError{Kind: models.ErrInvalidSymbol}
			}
			return models.OrderResult{OrderID: "1"}, nil
		})
	if err != nil || res.OrderID != "1" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if len(seen) != 2 {
		t.Fatalf("attempts = %v", seen)
	}
	for _, tp := range types {
		if tp != models.OrderStop {
			t.Errorf("order type changed to %s", tp)
		}
	}
}

func TestPlaceWithSymbolRetryOnlyOnce(t *testing.T) {
	calls := 0
	_, err := PlaceWithSymbolRetry(context.Background(), []string{"A", "B", "C"}, models.OrderRequest{},
		func(context.Context, string, models.OrderRequest) (models.OrderResult, error) {
			calls++
			return models.OrderResult{}, models.ErrInvalidSymbol
		})
	if !errors.Is(err, models.ErrInvalidSymbol) || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestPlaceWithSymbolRetryOtherErrorsStop(t *testing.T) {
	calls := 0
	_, err := PlaceWithSymbolRetry(context.Background(), []string{"A", "B"}, models.OrderRequest{},
		func(context.Context, string, models.OrderRequest) (models.OrderResult, error) {
			calls++
			return models.OrderResult{}, models.ErrInvalidOrder
		})
	if !errors.Is(err, models.ErrInvalidOrder) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestIgnoreLeverageNotModified(t *testing.T) {
	wrapped := &models.ExchangeError{Exchange: models.ExchangeBybit, Code: "110043", Kind: models.ErrLeverageNotModified}
	if err := IgnoreLeverageNotModified(wrapped); err != nil {
		t.Fatalf("err = %v", err)
	}
	if err := IgnoreLeverageNotModified(models.ErrAuth); !errors.Is(err, models.ErrAuth) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewClientOrderID(t *testing.T) {
	a, b := NewClientOrderID("sl"), NewClientOrderID("sl")
	if a == b {
		t.Fatal("ids must differ")
	}
	if len(a) > 32 || !strings.HasPrefix(a, "nxsl") {
		t.Fatalf("bad id %q", a)
	}
}
