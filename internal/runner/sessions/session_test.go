package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"nexus_bot/internal/bridge"
	"nexus_bot/internal/cooldown"
	"nexus_bot/internal/exchange/exchangetest"
	"nexus_bot/internal/ledger"
	"nexus_bot/internal/models"
	"nexus_bot/internal/risk"
)

type recorder struct {
	mu      sync.Mutex
	results []models.ExecutionResult
	sent    []string
	answer  bool
	asked   int
}

func (r *recorder) Notify(_ context.Context, _ int64, res models.ExecutionResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *recorder) Send(_ context.Context, _ int64, text string) {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
}

func (r *recorder) Confirm(context.Context, int64, string, time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asked++
	return r.answer
}

func (r *recorder) notified() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	s       *UserSession
	bybit   *exchangetest.Fake
	binance *exchangetest.Fake
	ledger  *ledger.Ledger
	notes   *recorder
	clock   *clock
	cd      *cooldown.Manager
	brk     *risk.CircuitBreaker
}

func userConfig() *models.UserConfig {
	return &models.UserConfig{
		UserID:                    42,
		Mode:                      models.ModePilot,
		Leverage:                  5,
		MaxLeverageAllowed:        20,
		CapitalFraction:           0.1,
		MaxCapitalFractionAllowed: 0.3,
		RiskFraction:              0.01,
		TakeProfitRatio:           1.5,
		AtrMultiplier:             2,
		MaxStopPct:                3,
		FallbackStopPct:           2,
		MinBalance:                5,
		PrimaryExchange:           models.ExchangeBybit,
		EnabledExchanges: map[models.Exchange]bool{
			models.ExchangeBinance: true,
			models.ExchangeBybit:   true,
			models.ExchangeOKX:     true,
		},
		CooldownPerSymbol: 5 * time.Minute,
		ConfirmTimeout:    time.Second,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bybit:   exchangetest.New(models.ExchangeBybit),
		binance: exchangetest.New(models.ExchangeBinance),
		ledger:  ledger.New(),
		notes:   &recorder{answer: true},
		clock:   &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		brk:     risk.NewCircuitBreaker(3),
	}
	h.cd = cooldown.NewManager(cooldown.WithClock(h.clock.Now))
	for _, f := range []*exchangetest.Fake{h.bybit, h.binance} {
		f.SetPrice("BTCUSDT", 100)
		f.SetPrice("ETHUSDT", 2000)
		f.SetInfo(models.SymbolInfo{Symbol: "BTCUSDT", QuantityPrecision: 3, PricePrecision: 1, TickSize: 0.1, StepSize: 0.001, MinQty: 0.001, MinNotional: 5})
		f.SetInfo(models.SymbolInfo{Symbol: "ETHUSDT", QuantityPrecision: 2, PricePrecision: 2, TickSize: 0.01, StepSize: 0.01, MinQty: 0.01, MinNotional: 5})
		f.SetBalance(1000, 1000)
	}

	h.s = New(userConfig(), bridge.New(h.bybit, h.binance), Deps{
		Ledger:   h.ledger,
		Cooldown: h.cd,
		Breaker:  h.brk,
		Notifier: h.notes,
		Log:      zap.NewNop(),
		Options:  Options{FlipChecks: 3},
	})
	return h
}

func long(symbol string) models.Signal {
	return models.Signal{Symbol: symbol, Side: models.SideLong, Strategy: "ema_cross", Confidence: 0.8}
}

func short(symbol string) models.Signal {
	return models.Signal{Symbol: symbol, Side: models.SideShort, Strategy: "ema_cross", Confidence: 0.8}
}

func TestExecuteEntersAndProtects(t *testing.T) {
	h := newHarness(t)
	res := h.s.Execute(context.Background(), long("BTCUSDT"))

	if res.Status != models.StatusSuccess {
		t.Fatalf("status %s err %v warnings %v", res.Status, res.Err, res.Warnings)
	}
	if res.Exchange != models.ExchangeBybit {
		t.Fatalf("exchange %s", res.Exchange)
	}
	if res.SLPrice == nil || res.TPPrice == nil {
		t.Fatalf("sl/tp not reported: %v %v", res.SLPrice, res.TPPrice)
	}
	if !(*res.SLPrice < res.EntryPrice && res.EntryPrice < *res.TPPrice) {
		t.Errorf("levels sl=%v entry=%v tp=%v", *res.SLPrice, res.EntryPrice, *res.TPPrice)
	}
	want := []string{"IDLE", "CHECKING_LIQUIDITY", "SIZING", "ENTERING", "PROTECTING", "VERIFYING", "DONE"}
	if strings.Join(res.Trace, ",") != strings.Join(want, ",") {
		t.Errorf("trace %v", res.Trace)
	}

	pos, ok := h.ledger.GetPosition(42, models.ExchangeBybit, "BTCUSDT")
	if !ok || pos.Quantity != res.Quantity || pos.ProtectionIncomplete {
		t.Errorf("ledger position %+v ok=%v", pos, ok)
	}
	if h.notes.notified() != 1 {
		t.Errorf("notifications %d, want 1", h.notes.notified())
	}
}

func TestAllOrdersGoToRoutedExchange(t *testing.T) {
	h := newHarness(t)
	h.s.Execute(context.Background(), long("BTCUSDT"))

	if h.binance.Calls() != 0 {
		t.Fatalf("binance touched %d times", h.binance.Calls())
	}
	placed := h.bybit.Placed()
	if len(placed) < 3 {
		t.Fatalf("placed %d orders", len(placed))
	}
	for _, o := range placed {
		if o.Exchange != models.ExchangeBybit {
			t.Errorf("order %s tagged %s", o.Type, o.Exchange)
		}
	}
}

func TestFlipClosesBeforeReentry(t *testing.T) {
	h := newHarness(t)
	h.bybit.SetPosition(models.Position{Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 0.5, EntryPrice: 90})

	res := h.s.Execute(context.Background(), short("BTCUSDT"))
	if res.Status != models.StatusSuccess || !res.Flipped {
		t.Fatalf("status %s flipped=%v err %v", res.Status, res.Flipped, res.Err)
	}

	placed := h.bybit.Placed()
	if !placed[0].ReduceOnly || placed[0].Quantity != 0.5 || placed[0].Side != models.OrderSell {
		t.Fatalf("first order must close the long: %+v", placed[0])
	}
	if placed[1].Type != models.OrderMarket || placed[1].Side != models.OrderSell || placed[1].ReduceOnly {
		t.Fatalf("second order must open the short: %+v", placed[1])
	}

	pos, ok := h.bybit.Position("BTCUSDT")
	if !ok || pos.Side != models.SideShort {
		t.Fatalf("exchange position %+v", pos)
	}
	// защита от новой цены входа, стороны для шорта
	if !(*res.TPPrice < pos.EntryPrice && pos.EntryPrice < *res.SLPrice) {
		t.Errorf("tp=%v entry=%v sl=%v", *res.TPPrice, pos.EntryPrice, *res.SLPrice)
	}
	stored, _ := h.ledger.GetPosition(42, models.ExchangeBybit, "BTCUSDT")
	if stored.Side != models.SideShort {
		t.Errorf("ledger side %s", stored.Side)
	}
}

func TestPartialProtectionSingleWarning(t *testing.T) {
	h := newHarness(t)
	rejected := &models.ExchangeError{Exchange: models.ExchangeBybit, Op: "place", Code: "10001", Kind: models.ErrInvalidPrecision}
	h.bybit.OnPlace = func(req models.OrderRequest, _ int) (models.OrderResult, error, bool) {
		if req.Type == models.OrderTakeProfit {
			return models.OrderResult{}, rejected, true
		}
		return models.OrderResult{}, nil, false
	}

	res := h.s.Execute(context.Background(), long("BTCUSDT"))
	if res.Status != models.StatusPartial {
		t.Fatalf("status %s", res.Status)
	}
	if !errors.Is(res.Err, models.ErrProtectionIncomplete) {
		t.Errorf("err %v", res.Err)
	}
	if res.SLPrice == nil || res.TPPrice != nil {
		t.Errorf("sl=%v tp=%v", res.SLPrice, res.TPPrice)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "TAKE_PROFIT") {
		t.Errorf("warnings %v", res.Warnings)
	}
	pos, _ := h.ledger.GetPosition(42, models.ExchangeBybit, "BTCUSDT")
	if !pos.ProtectionIncomplete || pos.StopLoss == nil || pos.TakeProfit != nil {
		t.Errorf("ledger %+v", pos)
	}
	if h.notes.notified() != 1 {
		t.Errorf("notifications %d", h.notes.notified())
	}
}

func TestRetrySkipsOrderThatAppearedLate(t *testing.T) {
	h := newHarness(t)
	h.bybit.HideOrders[models.OrderTakeProfit] = true
	h.bybit.OnOpenOrders = func(call int, orders []models.Order) []models.Order {
		if call >= 2 {
			orders = append(orders, models.Order{ID: "late", Symbol: "BTCUSDT", Type: models.OrderTakeProfit, TriggerPrice: 103})
		}
		return orders
	}

	res := h.s.Execute(context.Background(), long("BTCUSDT"))
	if res.Status != models.StatusSuccess {
		t.Fatalf("status %s warnings %v", res.Status, res.Warnings)
	}
	tp := 0
	for _, o := range h.bybit.Placed() {
		if o.Type == models.OrderTakeProfit {
			tp++
		}
	}
	if tp != 1 {
		t.Errorf("take profit placed %d times", tp)
	}
}

func TestCooldownRejectsWithoutNetwork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.s.Execute(ctx, long("BTCUSDT"))

	calls := h.bybit.Calls()
	res := h.s.Execute(ctx, long("BTCUSDT"))
	if res.Status != models.StatusSkipped || !errors.Is(res.Err, models.ErrCooldownActive) {
		t.Fatalf("status %s err %v", res.Status, res.Err)
	}
	if h.bybit.Calls() != calls {
		t.Errorf("exchange called during cooldown: %d -> %d", calls, h.bybit.Calls())
	}
	if h.notes.notified() != 1 {
		t.Errorf("skipped signal notified")
	}

	// другой символ кулдаун не задевает
	if res := h.s.Execute(ctx, long("ETHUSDT")); res.Status == models.StatusSkipped {
		t.Errorf("ETHUSDT skipped: %v", res.Err)
	}

	h.clock.Add(5 * time.Minute)
	res = h.s.Execute(ctx, long("BTCUSDT"))
	if res.Status == models.StatusSkipped {
		t.Fatalf("still in cooldown after expiry")
	}
	if !res.RefreshOnly {
		t.Errorf("same side signal must only refresh protection")
	}
}

func TestLeverageNotModifiedIsSuccess(t *testing.T) {
	h := newHarness(t)
	if err := h.bybit.SetLeverage(context.Background(), "BTCUSDT", 5); err != nil {
		t.Fatal(err)
	}
	res := h.s.Execute(context.Background(), long("BTCUSDT"))
	if res.Status != models.StatusSuccess {
		t.Fatalf("status %s err %v", res.Status, res.Err)
	}
}

func TestEntryTimeoutChecksPosition(t *testing.T) {
	h := newHarness(t)
	h.bybit.LoseResponse[models.OrderMarket] = true

	res := h.s.Execute(context.Background(), long("BTCUSDT"))
	if res.Status != models.StatusSuccess {
		t.Fatalf("status %s err %v", res.Status, res.Err)
	}
	entries := 0
	for _, o := range h.bybit.Placed() {
		if o.Type == models.OrderMarket {
			entries++
		}
	}
	if entries != 1 {
		t.Errorf("market orders %d, entry must not be resent", entries)
	}
	if res.Quantity <= 0 || res.EntryPrice != 100 {
		t.Errorf("qty %v entry %v", res.Quantity, res.EntryPrice)
	}
}

func TestSameSideRefreshUsesStoredEntry(t *testing.T) {
	h := newHarness(t)
	h.bybit.SetPosition(models.Position{Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 1, EntryPrice: 95})
	if err := h.ledger.UpdatePosition(42, models.Position{Exchange: models.ExchangeBybit, Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 1, EntryPrice: 80}); err != nil {
		t.Fatal(err)
	}

	res := h.s.Execute(context.Background(), long("BTCUSDT"))
	if !res.RefreshOnly || res.Status != models.StatusSuccess {
		t.Fatalf("refresh=%v status %s err %v", res.RefreshOnly, res.Status, res.Err)
	}
	if res.EntryPrice != 80 {
		t.Errorf("entry %v, want stored 80", res.EntryPrice)
	}
	// 2% от 80
	if res.SLPrice == nil || *res.SLPrice != 78.4 {
		t.Errorf("sl %v", res.SLPrice)
	}
	for _, o := range h.bybit.Placed() {
		if o.Type == models.OrderMarket {
			t.Fatalf("refresh must not trade: %+v", o)
		}
	}
}

func TestInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.bybit.SetBalance(3, 3)

	res := h.s.Execute(context.Background(), long("BTCUSDT"))
	if res.Status != models.StatusFailed || !errors.Is(res.Err, models.ErrInsufficientFunds) {
		t.Fatalf("status %s err %v", res.Status, res.Err)
	}
	if len(h.bybit.Placed()) != 0 {
		t.Errorf("orders placed without funds")
	}
	if h.notes.notified() != 1 {
		t.Errorf("notifications %d", h.notes.notified())
	}
}

func TestRoutingFailureNotifies(t *testing.T) {
	h := newHarness(t)
	res := h.s.Execute(context.Background(), long("TSLA"))
	if res.Status != models.StatusFailed || !errors.Is(res.Err, models.ErrRouting) {
		t.Fatalf("status %s err %v", res.Status, res.Err)
	}
	if h.notes.notified() != 1 {
		t.Errorf("notifications %d", h.notes.notified())
	}
}

func TestCopilotRejectionSetsCooldown(t *testing.T) {
	h := newHarness(t)
	h.s.UpdateConfig(func(c *models.UserConfig) { c.Mode = models.ModeCopilot })
	h.notes.answer = false

	res := h.s.handle(context.Background(), long("BTCUSDT"))
	if res.Status != models.StatusSkipped {
		t.Fatalf("status %s", res.Status)
	}
	if h.notes.asked != 1 || len(h.notes.sent) != 1 || !strings.Contains(h.notes.sent[0], "отменён") {
		t.Errorf("asked %d sent %v", h.notes.asked, h.notes.sent)
	}
	if len(h.bybit.Placed()) != 0 {
		t.Errorf("orders placed after rejection")
	}
	if !h.cd.Active(context.Background(), models.ExchangeBybit, "BTCUSDT") {
		t.Errorf("rejection must start cooldown")
	}
}

func TestWatcherOnlyAdvises(t *testing.T) {
	h := newHarness(t)
	h.s.UpdateConfig(func(c *models.UserConfig) { c.Mode = models.ModeWatcher })

	h.s.handle(context.Background(), long("BTCUSDT"))
	if h.bybit.Calls() != 0 {
		t.Errorf("watcher touched exchange")
	}
	if len(h.notes.sent) != 1 || h.notes.notified() != 0 {
		t.Errorf("sent %v notified %d", h.notes.sent, h.notes.notified())
	}
}

func TestClosePositionTripsBreaker(t *testing.T) {
	h := newHarness(t)
	h.brk.Limit = 1
	h.bybit.SetPosition(models.Position{Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 1, EntryPrice: 110})

	res := h.s.ClosePosition(context.Background(), models.ExchangeBybit, "BTCUSDT")
	if res.Status != models.StatusSuccess {
		t.Fatalf("status %s err %v", res.Status, res.Err)
	}
	if _, ok := h.bybit.Position("BTCUSDT"); ok {
		t.Fatalf("position still open")
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings %v", res.Warnings)
	}
	if h.s.Mode() != models.ModeCopilot {
		t.Errorf("mode %s after breaker trip", h.s.Mode())
	}
}

func TestRefreshPositionsReconciles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.ledger.UpdatePosition(42, models.Position{Exchange: models.ExchangeBybit, Symbol: "ETHUSDT", Side: models.SideLong, Quantity: 1, EntryPrice: 2100}); err != nil {
		t.Fatal(err)
	}
	h.bybit.SetPosition(models.Position{Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 2, EntryPrice: 99})
	h.bybit.AddOpenOrder(models.Order{Symbol: "BTCUSDT", Type: models.OrderStop, TriggerPrice: 97})
	h.bybit.AddOpenOrder(models.Order{Symbol: "BTCUSDT", Type: models.OrderTakeProfit, TriggerPrice: 102})

	closed, err := h.s.RefreshPositions(ctx, models.ExchangeBybit)
	if err != nil {
		t.Fatal(err)
	}
	if len(closed) != 1 || closed[0].Symbol != "ETHUSDT" {
		t.Fatalf("closed %+v", closed)
	}
	if _, ok := h.ledger.GetPosition(42, models.ExchangeBybit, "ETHUSDT"); ok {
		t.Errorf("stale position kept")
	}
	btc, ok := h.ledger.GetPosition(42, models.ExchangeBybit, "BTCUSDT")
	if !ok || btc.ProtectionIncomplete || btc.StopLoss == nil || *btc.StopLoss != 97 {
		t.Errorf("adopted %+v", btc)
	}
	if h.brk.Losses(42) != 1 {
		t.Errorf("loss not recorded")
	}
}

func TestReprotectNotifiesOnlyWhenComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bybit.SetPosition(models.Position{Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 1, EntryPrice: 100})
	pos := models.Position{Exchange: models.ExchangeBybit, Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 1, EntryPrice: 100, ProtectionIncomplete: true}
	if err := h.ledger.UpdatePosition(42, pos); err != nil {
		t.Fatal(err)
	}

	h.bybit.OnPlace = func(req models.OrderRequest, _ int) (models.OrderResult, error, bool) {
		if req.Type == models.OrderStop {
			return models.OrderResult{}, &models.ExchangeError{Kind: models.ErrInvalidOrder}, true
		}
		return models.OrderResult{}, nil, false
	}
	if _, ok := h.s.Reprotect(ctx, pos); ok || h.notes.notified() != 0 {
		t.Fatalf("incomplete reprotect must stay silent")
	}

	h.bybit.OnPlace = nil
	res, ok := h.s.Reprotect(ctx, pos)
	if !ok || res.Status != models.StatusSuccess || h.notes.notified() != 1 {
		t.Fatalf("ok=%v status %s notified %d", ok, res.Status, h.notes.notified())
	}
	stored, _ := h.ledger.GetPosition(42, models.ExchangeBybit, "BTCUSDT")
	if stored.ProtectionIncomplete {
		t.Errorf("flag not cleared")
	}
}

func TestFlipSetsCooldownAtEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bybit.SetPosition(models.Position{Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 0.5, EntryPrice: 90})

	var duringClose *bool
	h.bybit.OnPlace = func(req models.OrderRequest, _ int) (models.OrderResult, error, bool) {
		if req.ReduceOnly && req.Type == models.OrderMarket && duringClose == nil {
			active := h.cd.Active(ctx, models.ExchangeBybit, "BTCUSDT")
			duringClose = &active
		}
		return models.OrderResult{}, nil, false
	}

	res := h.s.Execute(ctx, short("BTCUSDT"))
	if res.Status != models.StatusSuccess || !res.Flipped {
		t.Fatalf("status %s flipped=%v err %v", res.Status, res.Flipped, res.Err)
	}
	if duringClose == nil || *duringClose {
		t.Fatalf("cooldown must not be set before the flip close (active=%v)", duringClose)
	}
	if !h.cd.Active(ctx, models.ExchangeBybit, "BTCUSDT") {
		t.Fatal("cooldown not set after entry")
	}
}

func TestBlacklistedAssetSkipped(t *testing.T) {
	h := newHarness(t)
	h.s.UpdateConfig(func(c *models.UserConfig) { c.ToggleAsset("BTCUSDT") })

	res := h.s.Execute(context.Background(), long("BTCUSDT"))
	if res.Status != models.StatusSkipped || !errors.Is(res.Err, models.ErrAssetDisabled) {
		t.Fatalf("status %s err %v", res.Status, res.Err)
	}
	if h.bybit.Calls() != 0 || h.notes.notified() != 0 {
		t.Errorf("calls %d notified %d", h.bybit.Calls(), h.notes.notified())
	}
	if res := h.s.Execute(context.Background(), long("ETHUSDT")); res.Status != models.StatusSuccess {
		t.Errorf("ETHUSDT status %s err %v", res.Status, res.Err)
	}
}

type fixedCloses map[string][]float64

func (m fixedCloses) Closes(symbol string) []float64 { return m[symbol] }

func TestCorrelatedEntrySkipped(t *testing.T) {
	h := newHarness(t)
	btc := make([]float64, 50)
	eth := make([]float64, 50)
	for i := range btc {
		step := 1.0
		if i%2 == 1 {
			step = -0.5
		}
		if i == 0 {
			btc[i], eth[i] = 100, 2000
			continue
		}
		btc[i] = btc[i-1] * (1 + step/100)
		eth[i] = eth[i-1] * (1 + 2*step/100)
	}
	h.s.deps.Correlation = risk.NewCorrelationGuard(0.85, 50, fixedCloses{"BTCUSDT": btc, "ETHUSDT": eth})
	h.s.UpdateConfig(func(c *models.UserConfig) { c.CorrelationGuard = true })
	if err := h.ledger.UpdatePosition(42, models.Position{Exchange: models.ExchangeBybit, Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 1, EntryPrice: 100}); err != nil {
		t.Fatal(err)
	}

	res := h.s.Execute(context.Background(), long("ETHUSDT"))
	if res.Status != models.StatusSkipped || !errors.Is(res.Err, models.ErrCorrelationLimit) {
		t.Fatalf("status %s err %v", res.Status, res.Err)
	}

	h.s.UpdateConfig(func(c *models.UserConfig) { c.CorrelationGuard = false })
	if res := h.s.Execute(context.Background(), long("ETHUSDT")); res.Status != models.StatusSuccess {
		t.Fatalf("guard off: status %s err %v", res.Status, res.Err)
	}
}

func TestBreakevenMovesStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.s.UpdateConfig(func(c *models.UserConfig) { c.BreakevenROI = 0.1 })
	h.bybit.SetPrice("BTCUSDT", 103)
	h.bybit.SetPosition(models.Position{Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 1, EntryPrice: 100})
	pos := models.Position{Exchange: models.ExchangeBybit, Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 1, EntryPrice: 100,
		StopLoss: models.Float(98), TakeProfit: models.Float(103)}
	if err := h.ledger.UpdatePosition(42, pos); err != nil {
		t.Fatal(err)
	}

	// 1% цены при плече 5 — 5% на маржу, рано
	if _, ok := h.s.Breakeven(ctx, pos, 101); ok || len(h.bybit.Placed()) != 0 {
		t.Fatalf("moved below threshold")
	}

	res, ok := h.s.Breakeven(ctx, pos, 103)
	if !ok {
		t.Fatalf("status %s err %v warnings %v", res.Status, res.Err, res.Warnings)
	}
	stored, _ := h.ledger.GetPosition(42, models.ExchangeBybit, "BTCUSDT")
	if stored.StopLoss == nil || *stored.StopLoss < 100 || *stored.StopLoss >= 103 {
		t.Fatalf("stop %v, want at breakeven", stored.StopLoss)
	}
	if stored.TakeProfit == nil || *stored.TakeProfit <= 103 {
		t.Errorf("take profit %v must stay ahead of price", stored.TakeProfit)
	}
	if !AtBreakeven(stored) {
		t.Errorf("position not at breakeven: %+v", stored)
	}

	placed := len(h.bybit.Placed())
	if _, ok := h.s.Breakeven(ctx, stored, 104); ok || len(h.bybit.Placed()) != placed {
		t.Errorf("breakeven repeated for protected position")
	}
}

// gatedNotifier держит подтверждение, пока тест не отпустит.
type gatedNotifier struct {
	recorder
	asked   chan struct{}
	release chan struct{}
}

func (g *gatedNotifier) Confirm(ctx context.Context, _ int64, _ string, _ time.Duration) bool {
	close(g.asked)
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return false
}

func TestPendingConfirmDoesNotHoldGate(t *testing.T) {
	gate := semaphore.NewWeighted(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	copilotEx := exchangetest.New(models.ExchangeBybit)
	pilot := newHarness(t)
	pilot.s.deps.Gate = gate

	waiting := &gatedNotifier{asked: make(chan struct{}), release: make(chan struct{})}
	cfg := userConfig()
	cfg.UserID = 1
	cfg.Mode = models.ModeCopilot
	copilotEx.SetPrice("BTCUSDT", 100)
	copilotEx.SetInfo(models.SymbolInfo{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001, MinQty: 0.001, MinNotional: 5})
	copilot := New(cfg, bridge.New(copilotEx), Deps{
		Ledger:   ledger.New(),
		Cooldown: cooldown.NewManager(),
		Notifier: waiting,
		Gate:     gate,
		Log:      zap.NewNop(),
	})

	go copilot.ConfirmWorker(ctx)
	copilot.Enqueue(long("BTCUSDT"))
	<-waiting.asked

	go pilot.s.ConfirmWorker(ctx)
	pilot.s.Enqueue(long("ETHUSDT"))

	deadline := time.Now().Add(2 * time.Second)
	for pilot.notes.notified() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("pilot entry waited behind another user's pending confirmation")
		}
		time.Sleep(5 * time.Millisecond)
	}
	pilot.notes.mu.Lock()
	res := pilot.notes.results[0]
	pilot.notes.mu.Unlock()
	if res.Status != models.StatusSuccess {
		t.Fatalf("pilot status %s err %v", res.Status, res.Err)
	}
	close(waiting.release)
}
