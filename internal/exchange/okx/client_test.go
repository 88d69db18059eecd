package okx

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

type fakeOKX struct {
	mu     sync.Mutex
	bodies map[string][]string
	reply  func(path string, body string) string
}

func (f *fakeOKX) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("OK-ACCESS-SIGN") == "" || r.Header.Get("OK-ACCESS-PASSPHRASE") != "pass" {
			t.Errorf("%s: missing auth headers", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		if f.bodies == nil {
			f.bodies = make(map[string][]string)
		}
		f.bodies[r.URL.Path] = append(f.bodies[r.URL.Path], string(data))
		f.mu.Unlock()
		_, _ = w.Write([]byte(f.reply(r.URL.Path, string(data))))
	}
}

func (f *fakeOKX) posts(path string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, raw := range f.bodies[path] {
		m := map[string]any{}
		_ = sonic.UnmarshalString(raw, &m)
		out = append(out, m)
	}
	return out
}

func newTestClient(t *testing.T, f *fakeOKX) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c := New(config.ExchangeConfig{APIKey: "key", APISecret: "secret", Passphrase: "pass", BaseURL: srv.URL, Timeout: 2 * time.Second, Retries: 1}, nil)
	// 1 контракт = 0.01 BTC, lotSz = 0.1 контракта
	c.cache.Put(models.SymbolInfo{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001, QuantityPrecision: 3, ContractValue: 0.01})
	return c
}

const algoAck = `{"code":"0","msg":"","data":[{"algoId":"777","sCode":"0","sMsg":""}]}`

func TestStopGoesToAlgoInContracts(t *testing.T) {
	f := &fakeOKX{reply: func(string, string) string { return algoAck }}
	c := newTestClient(t, f)

	res, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       models.OrderSell,
		Type:       models.OrderStop,
		Quantity:   0.5,
		ReduceOnly: true,
		Params:     models.ProtectionParams{TriggerPrice: 98, TriggerDirection: models.TriggerFallsBelow},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if res.OrderID != "algo:777" {
		t.Fatalf("order id = %q", res.OrderID)
	}
	posts := f.posts("/api/v5/trade/order-algo")
	if len(posts) != 1 {
		t.Fatalf("algo posts = %d", len(posts))
	}
	b := posts[0]
	if b["instId"] != "BTC-USDT-SWAP" || b["sz"] != "50" || b["slTriggerPx"] != "98.0" || b["slOrdPx"] != "-1" {
		t.Fatalf("unexpected body %v", b)
	}
}

func TestTrailingCallbackRatio(t *testing.T) {
	f := &fakeOKX{reply: func(string, string) string { return algoAck }}
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
	b := f.posts("/api/v5/trade/order-algo")[0]
	if b["ordType"] != "move_order_stop" || b["callbackRatio"] != "0.02" || b["activePx"] != "100.0" {
		t.Fatalf("unexpected body %v", b)
	}
}

func TestCancelAlgoByPrefix(t *testing.T) {
	f := &fakeOKX{reply: func(string, string) string {
		return `{"code":"0","msg":"","data":[{"algoId":"777","sCode":"0"}]}`
	}}
	c := newTestClient(t, f)

	if err := c.CancelOrder(context.Background(), "BTCUSDT", "algo:777"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.mu.Lock()
	algo, plain := len(f.bodies["/api/v5/trade/cancel-algos"]), len(f.bodies["/api/v5/trade/cancel-order"])
	f.mu.Unlock()
	if algo != 1 || plain != 0 {
		t.Fatalf("cancel-algos=%d cancel-order=%d", algo, plain)
	}
}

func TestRowLevelErrorMapped(t *testing.T) {
	f := &fakeOKX{reply: func(string, string) string {
		return `{"code":"1","msg":"All operations failed","data":[{"algoId":"","sCode":"51008","sMsg":"Insufficient balance"}]}`
	}}
	c := newTestClient(t, f)

	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     models.OrderBuy,
		Type:     models.OrderTakeProfit,
		Quantity: 0.5,
		Params:   models.ProtectionParams{TriggerPrice: 103},
	})
	if !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("err = %v", err)
	}
}

func TestPositionsInBaseUnits(t *testing.T) {
	f := &fakeOKX{reply: func(path, _ string) string {
		return `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","pos":"-50","posSide":"net","avgPx":"100.5"}]}`
	}}
	c := newTestClient(t, f)

	ps, err := c.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(ps) != 1 {
		t.Fatalf("positions = %d", len(ps))
	}
	p := ps[0]
	if p.Symbol != "BTCUSDT" || p.Side != models.SideShort || p.Quantity != 0.5 || p.EntryPrice != 100.5 {
		t.Fatalf("unexpected position %+v", p)
	}
}

func TestContracts(t *testing.T) {
	info := models.SymbolInfo{StepSize: 0.001, ContractValue: 0.01}
	if got := contracts(0.5057, info); got != "50.5" {
		t.Fatalf("contracts = %s", got)
	}
}
