package bybit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"nexus_bot/internal/models"
	"nexus_bot/internal/modules/config"
)

type call struct {
	path string
	body map[string]any
}

type fakeBybit struct {
	mu    sync.Mutex
	calls []call
	// path -> ответ; для create можно переопределить по символу
	reply func(path string, body map[string]any) string
}

func (f *fakeBybit) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-BAPI-SIGN") == "" || r.Header.Get("X-BAPI-API-KEY") != "key" {
			t.Errorf("%s: missing auth headers", r.URL.Path)
		}
		body := map[string]any{}
		if r.Method == http.MethodPost {
			data, _ := io.ReadAll(r.Body)
			_ = sonic.Unmarshal(data, &body)
		}
		f.mu.Lock()
		f.calls = append(f.calls, call{path: r.URL.Path, body: body})
		f.mu.Unlock()
		_, _ = w.Write([]byte(f.reply(r.URL.Path, body)))
	}
}

func (f *fakeBybit) posts(path string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, c := range f.calls {
		if c.path == path {
			out = append(out, c.body)
		}
	}
	return out
}

const ok = `{"retCode":0,"retMsg":"OK","result":{}}`

func newTestClient(t *testing.T, f *fakeBybit) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c := New(config.ExchangeConfig{APIKey: "key", APISecret: "secret", BaseURL: srv.URL, Timeout: 2 * time.Second, Retries: 1}, nil)
	c.cache.Put(models.SymbolInfo{Symbol: "BTCUSDT", QuantityPrecision: 3, PricePrecision: 1, TickSize: 0.1, StepSize: 0.001})
	c.cache.Put(models.SymbolInfo{Symbol: "1000SHIBUSDT", QuantityPrecision: 0, PricePrecision: 6, TickSize: 0.000001, StepSize: 100})
	return c
}

func TestSetLeverageNotModifiedIsSuccess(t *testing.T) {
	f := &fakeBybit{reply: func(string, map[string]any) string {
		return `{"retCode":110043,"retMsg":"leverage not modified","result":{}}`
	}}
	c := newTestClient(t, f)

	if err := c.SetLeverage(context.Background(), "BTCUSDT", 5); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := c.SetLeverage(context.Background(), "BTCUSDT", 5); err != nil {
		t.Fatalf("second: %v", err)
	}
	if n := len(f.posts("/v5/position/set-leverage")); n != 2 {
		t.Fatalf("leverage calls = %d", n)
	}
}

func TestStopCarriesTriggerDirection(t *testing.T) {
	f := &fakeBybit{reply: func(path string, _ map[string]any) string {
		return `{"retCode":0,"retMsg":"OK","result":{"orderId":"o1","orderLinkId":"l1"}}`
	}}
	c := newTestClient(t, f)

	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Exchange:   models.ExchangeBybit,
		Symbol:     "BTCUSDT",
		Side:       models.OrderSell,
		Type:       models.OrderStop,
		Quantity:   0.5,
		ReduceOnly: true,
		Params:     models.ProtectionParams{TriggerPrice: 97.96, TriggerDirection: models.TriggerFallsBelow},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	posts := f.posts("/v5/order/create")
	if len(posts) != 1 {
		t.Fatalf("create calls = %d", len(posts))
	}
	b := posts[0]
	if b["triggerPrice"] != "98.0" {
		t.Errorf("triggerPrice = %v", b["triggerPrice"])
	}
	// sonic декодирует числа в float64
	if b["triggerDirection"] != float64(2) {
		t.Errorf("triggerDirection = %v", b["triggerDirection"])
	}
	if b["side"] != "Sell" || b["reduceOnly"] != true {
		t.Errorf("unexpected body %v", b)
	}
}

func TestStopWithoutDirectionRejectedLocally(t *testing.T) {
	f := &fakeBybit{reply: func(string, map[string]any) string { return ok }}
	c := newTestClient(t, f)

	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     models.OrderSell,
		Type:     models.OrderTakeProfit,
		Quantity: 0.5,
		Params:   models.ProtectionParams{TriggerPrice: 103},
	})
	if !errors.Is(err, models.ErrInvalidOrder) {
		t.Fatalf("err = %v", err)
	}
	if n := len(f.posts("/v5/order/create")); n != 0 {
		t.Fatalf("create calls = %d, want 0", n)
	}
}

func TestTrailingUsesAbsoluteDistance(t *testing.T) {
	f := &fakeBybit{reply: func(string, map[string]any) string { return ok }}
	c := newTestClient(t, f)

	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     models.OrderSell,
		Type:     models.OrderTrailingStop,
		Quantity: 0.5,
		Params:   models.ProtectionParams{ActivationPrice: 100, CallbackPct: 2, TrailingDistance: 2},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	posts := f.posts("/v5/position/trading-stop")
	if len(posts) != 1 {
		t.Fatalf("trading-stop calls = %d", len(posts))
	}
	if posts[0]["trailingStop"] != "2.0" || posts[0]["activePrice"] != "100.0" {
		t.Fatalf("unexpected body %v", posts[0])
	}
}

func TestTrailingFallsBackWithoutActivation(t *testing.T) {
	f := &fakeBybit{reply: func(path string, body map[string]any) string {
		if _, has := body["activePrice"]; has {
			return `{"retCode":10001,"retMsg":"activePrice invalid","result":{}}`
		}
		return ok
	}}
	c := newTestClient(t, f)

	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     models.OrderSell,
		Type:     models.OrderTrailingStop,
		Quantity: 0.5,
		Params:   models.ProtectionParams{ActivationPrice: 100, CallbackPct: 2, TrailingDistance: 2},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if n := len(f.posts("/v5/position/trading-stop")); n != 2 {
		t.Fatalf("trading-stop calls = %d, want 2", n)
	}
}

func TestSymbolRetryUsesAlias(t *testing.T) {
	f := &fakeBybit{reply: func(path string, body map[string]any) string {
		if path == "/v5/order/create" && body["symbol"] == "SHIB1000USDT" {
			return `{"retCode":10001,"retMsg":"params error: symbol invalid","result":{}}`
		}
		return `{"retCode":0,"retMsg":"OK","result":{"orderId":"o2"}}`
	}}
	c := newTestClient(t, f)

	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:     "1000SHIBUSDT",
		Side:       models.OrderSell,
		Type:       models.OrderStop,
		Quantity:   1000,
		ReduceOnly: true,
		Params:     models.ProtectionParams{TriggerPrice: 0.000019, TriggerDirection: models.TriggerFallsBelow},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	posts := f.posts("/v5/order/create")
	if len(posts) != 2 {
		t.Fatalf("create calls = %d, want 2", len(posts))
	}
	if posts[0]["symbol"] != "SHIB1000USDT" || posts[1]["symbol"] != "1000SHIBUSDT" {
		t.Fatalf("symbols = %v, %v", posts[0]["symbol"], posts[1]["symbol"])
	}
	for _, p := range posts {
		if p["triggerPrice"] == nil {
			t.Fatalf("retry lost conditional params: %v", p)
		}
	}
}

func TestAuthNotRetried(t *testing.T) {
	f := &fakeBybit{reply: func(string, map[string]any) string {
		return `{"retCode":10003,"retMsg":"API key is invalid.","result":{}}`
	}}
	c := newTestClient(t, f)
	c.retry.Attempts = 3

	_, err := c.GetPositions(context.Background())
	if !errors.Is(err, models.ErrAuth) {
		t.Fatalf("err = %v", err)
	}
	f.mu.Lock()
	n := len(f.calls)
	f.mu.Unlock()
	if n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
}

func TestClassifyConditional(t *testing.T) {
	cases := []struct {
		side models.OrderSide
		dir  models.TriggerDirection
		want models.OrderType
	}{
		{models.OrderSell, models.TriggerFallsBelow, models.OrderStop},
		{models.OrderSell, models.TriggerRisesAbove, models.OrderTakeProfit},
		{models.OrderBuy, models.TriggerRisesAbove, models.OrderStop},
		{models.OrderBuy, models.TriggerFallsBelow, models.OrderTakeProfit},
	}
	for _, tc := range cases {
		got := classify(orderRow{StopOrderType: "Stop", TriggerDirection: int(tc.dir)}, tc.side)
		if got != tc.want {
			t.Errorf("%s/%s: got %s, want %s", tc.side, tc.dir, got, tc.want)
		}
	}
}
