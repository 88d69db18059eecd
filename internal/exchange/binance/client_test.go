package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"

	"nexus_bot/internal/models"
	"nexus_bot/internal/modules/config"
)

type recorder struct {
	mu    sync.Mutex
	forms []map[string]string
}

func (r *recorder) add(req *http.Request) map[string]string {
	_ = req.ParseForm()
	m := make(map[string]string, len(req.Form))
	for k := range req.Form {
		m[k] = req.Form.Get(k)
	}
	r.mu.Lock()
	r.forms = append(r.forms, m)
	r.mu.Unlock()
	return m
}

func (r *recorder) all() []map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]string(nil), r.forms...)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := New(config.ExchangeConfig{
		APIKey:    "key",
		APISecret: "secret",
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
		Retries:   1,
	}, nil)
	c.cache.Put(models.SymbolInfo{Symbol: "BTCUSDT", QuantityPrecision: 3, PricePrecision: 1, TickSize: 0.1, StepSize: 0.001})
	c.cache.Put(models.SymbolInfo{Symbol: "1000SHIBUSDT", QuantityPrecision: 0, PricePrecision: 6, TickSize: 0.000001, StepSize: 1})
	return c
}

const orderResp = `{"orderId":42,"clientOrderId":"nxtest","status":"NEW","avgPrice":"0","executedQty":"0"}`

func TestPlaceTrailingUsesActivationAndCallback(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(orderResp))
	})

	res, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Exchange:   models.ExchangeBinance,
		Symbol:     "BTCUSDT",
		Side:       models.OrderSell,
		Type:       models.OrderTrailingStop,
		Quantity:   0.5,
		ReduceOnly: true,
		Params:     models.ProtectionParams{ActivationPrice: 100.04, CallbackPct: 2},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if res.OrderID != "42" {
		t.Fatalf("order id = %q", res.OrderID)
	}

	forms := rec.all()
	if len(forms) != 1 {
		t.Fatalf("requests = %d, want 1", len(forms))
	}
	f := forms[0]
	if f["type"] != "TRAILING_STOP_MARKET" {
		t.Errorf("type = %q", f["type"])
	}
	if f["activationPrice"] != "100.0" {
		t.Errorf("activationPrice = %q", f["activationPrice"])
	}
	if f["callbackRate"] != "2.0" {
		t.Errorf("callbackRate = %q", f["callbackRate"])
	}
	if _, ok := f["stopPrice"]; ok {
		t.Errorf("trailing order must not carry stopPrice")
	}
	if f["reduceOnly"] != "true" {
		t.Errorf("reduceOnly = %q", f["reduceOnly"])
	}
}

func TestPlaceStopMarkPrice(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(orderResp))
	})

	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       models.OrderSell,
		Type:       models.OrderStop,
		Quantity:   0.5,
		ReduceOnly: true,
		Params:     models.ProtectionParams{TriggerPrice: 98.0, TriggerDirection: models.TriggerFallsBelow},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	f := rec.all()[0]
	if f["type"] != "STOP_MARKET" || f["stopPrice"] != "98.0" || f["workingType"] != "MARK_PRICE" {
		t.Fatalf("unexpected form %v", f)
	}
}

func TestPlaceSymbolRetryKeepsType(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		f := rec.add(r)
		if f["symbol"] == "1000SHIBUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		_, _ = w.Write([]byte(orderResp))
	})

	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:   "1000SHIBUSDT",
		Side:     models.OrderBuy,
		Type:     models.OrderTakeProfit,
		Quantity: 1000,
		Params:   models.ProtectionParams{TriggerPrice: 0.000021},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	forms := rec.all()
	if len(forms) != 2 {
		t.Fatalf("requests = %d, want 2", len(forms))
	}
	if forms[1]["symbol"] != "SHIB1000USDT" {
		t.Errorf("retry symbol = %q", forms[1]["symbol"])
	}
	for i, f := range forms {
		if f["type"] != "TAKE_PROFIT_MARKET" {
			t.Errorf("attempt %d type = %q", i, f["type"])
		}
	}
}

func TestPlaceWithoutTriggerNeverSent(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		_, _ = w.Write([]byte(orderResp))
	})

	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     models.OrderSell,
		Type:     models.OrderStop,
		Quantity: 0.5,
	})
	if !errors.Is(err, models.ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}
	if n := len(rec.all()); n != 0 {
		t.Fatalf("requests = %d, want 0", n)
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		code int64
		want error
	}{
		{-1121, models.ErrInvalidSymbol},
		{-1111, models.ErrInvalidPrecision},
		{-2021, models.ErrInvalidOrder},
		{-2015, models.ErrAuth},
		{-1003, models.ErrRateLimited},
		{-2019, models.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		err := mapError("place", &common.APIError{Code: tc.code, Message: "x"})
		if !errors.Is(err, tc.want) {
			t.Errorf("code %d: got %v, want %v", tc.code, err, tc.want)
		}
	}
	if !errors.Is(mapError("x", context.DeadlineExceeded), models.ErrTimeout) {
		t.Errorf("deadline should map to timeout")
	}
}

func TestCallbackRateClamp(t *testing.T) {
	if got := CallbackRate(0.01); got != 0.1 {
		t.Errorf("low clamp = %v", got)
	}
	if got := CallbackRate(12); got != 5 {
		t.Errorf("high clamp = %v", got)
	}
	if got := CallbackRate(2); got != 2 {
		t.Errorf("passthrough = %v", got)
	}
}
