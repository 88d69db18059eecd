package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/models"
	"nexus_bot/internal/symbols"
	"nexus_bot/pkg/tracing"
)

// attempt — состояние одной попытки исполнения. Биржа выбрана один раз
// и дальше не меняется.
type attempt struct {
	s   *UserSession
	cfg *models.UserConfig
	sig models.Signal
	ex  models.Exchange
	a   exchange.Adapter
	res *models.ExecutionResult
	log *zap.Logger

	// сигнал из очереди ставит кулдаун, ручное обновление защиты нет
	fromSignal  bool
	cooldownSet bool

	// перенос стопа в безубыток: свой SL, стороны считаются от текущей цены
	be *breakevenLevels
}

func (t *attempt) enter(st State) {
	t.res.Trace = append(t.res.Trace, st.String())
}

// Execute проводит сигнал через всю цепочку и шлёт ровно одно
// уведомление на DONE или FAILED. Отказ до сетевых вызовов (кулдаун,
// выключенная стратегия) возвращается как skipped без уведомления.
func (s *UserSession) Execute(ctx context.Context, sig models.Signal) models.ExecutionResult {
	span, ctx := tracing.StartSpan(ctx, "session.execute",
		opentracing.Tag{Key: "owner", Value: s.UserID},
		opentracing.Tag{Key: "symbol", Value: sig.Symbol},
	)

	sig.Symbol = symbols.Normalize(sig.Symbol)
	cfg := s.Config()
	res := models.ExecutionResult{
		Owner:    s.UserID,
		Symbol:   sig.Symbol,
		Side:     sig.Side,
		Strategy: sig.Strategy,
	}
	t := &attempt{s: s, cfg: cfg, sig: sig, res: &res, fromSignal: true}
	t.enter(StateIdle)

	ex, a, err := s.precheck(ctx, cfg, sig)
	if err != nil {
		tracing.Finish(span, nil)
		if errors.Is(err, models.ErrRouting) {
			return s.finish(ctx, t, err)
		}
		return s.skip(res, err)
	}
	t.ex, t.a = ex, a
	res.Exchange = ex
	t.log = s.log.With(zap.String("exchange", string(ex)), zap.String("symbol", sig.Symbol))

	s.execMu.Lock()
	defer s.execMu.Unlock()

	// пока ждали мьютекс, параллельная попытка могла поставить кулдаун
	if s.deps.Cooldown != nil && s.deps.Cooldown.Active(ctx, ex, sig.Symbol) {
		tracing.Finish(span, nil)
		return s.skip(res, models.ErrCooldownActive)
	}

	err = t.run(ctx)
	tracing.Finish(span, err)
	return s.finish(ctx, t, err)
}

// precheck — всё, что можно отсеять без обращения к бирже.
func (s *UserSession) precheck(ctx context.Context, cfg *models.UserConfig, sig models.Signal) (models.Exchange, exchange.Adapter, error) {
	if !sig.Side.Valid() {
		return "", nil, fmt.Errorf("signal %s: side %q: %w", sig.Symbol, sig.Side, models.ErrInvalidOrder)
	}
	class := symbols.Default().AssetClassOf(sig.Symbol)
	if !cfg.StrategyEnabled(sig.Strategy) || cfg.DisabledGroups[class] {
		return "", nil, fmt.Errorf("%s/%s: %w", sig.Strategy, class, models.ErrStrategyDisabled)
	}
	if cfg.AssetDisabled(sig.Symbol) {
		return "", nil, fmt.Errorf("%s: %w", sig.Symbol, models.ErrAssetDisabled)
	}
	ex, a, err := s.Bridge().Route(sig.Symbol, cfg)
	if err != nil {
		return "", nil, err
	}
	if s.deps.Cooldown != nil && s.deps.Cooldown.Active(ctx, ex, sig.Symbol) {
		return ex, nil, models.ErrCooldownActive
	}
	if cfg.CorrelationGuard {
		if err := s.deps.Correlation.Check(sig.Symbol, s.openSymbols(sig.Symbol)); err != nil {
			return ex, nil, err
		}
	}
	return ex, a, nil
}

// openSymbols — символы открытых позиций пользователя, кроме symbol.
func (s *UserSession) openSymbols(symbol string) []string {
	var out []string
	seen := map[string]bool{symbol: true}
	for _, p := range s.Positions() {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}

func (s *UserSession) skip(res models.ExecutionResult, err error) models.ExecutionResult {
	res.Status = models.StatusSkipped
	res.Err = err
	res.FinishedAt = time.Now()
	s.log.Debug("signal skipped", zap.String("symbol", res.Symbol), zap.Error(err))
	return res
}

// finish — терминальное состояние: журнал и одно уведомление.
func (s *UserSession) finish(ctx context.Context, t *attempt, err error) models.ExecutionResult {
	res := t.res
	if err != nil {
		res.Status = models.StatusFailed
		res.Err = err
		t.enter(StateFailed)
	} else {
		if res.Status == "" {
			res.Status = models.StatusSuccess
		}
		t.enter(StateDone)
	}
	res.FinishedAt = time.Now()

	if jerr := s.deps.Journal.Record(ctx, *res); jerr != nil {
		s.log.Warn("journal record failed", zap.Error(jerr))
	}
	if s.deps.Notifier != nil {
		s.deps.Notifier.Notify(ctx, s.UserID, *res)
	}
	return *res
}

func (t *attempt) run(ctx context.Context) error {
	t.enter(StateCheckingLiquidity)
	bal, err := t.balance(ctx)
	if err != nil {
		return err
	}
	if bal.Available < t.cfg.MinBalance {
		return fmt.Errorf("available %.2f < min %.2f: %w", bal.Available, t.cfg.MinBalance, models.ErrInsufficientFunds)
	}

	pos, found, err := t.position(ctx)
	if err != nil {
		return err
	}
	if found {
		if pos.Side == t.sig.Side {
			return t.refresh(ctx, pos)
		}
		if err := t.flip(ctx, pos); err != nil {
			return err
		}
		// после закрытия маржа освободилась
		if bal, err = t.balance(ctx); err != nil {
			return err
		}
	}

	t.enter(StateSizing)
	price, err := t.price(ctx)
	if err != nil {
		return err
	}
	info, err := t.info(ctx)
	if err != nil {
		return err
	}
	plan, err := t.s.deps.Risk.ComputePlan(t.sig, bal, price, info, *t.cfg)
	if err != nil {
		return err
	}
	if err := t.leverage(ctx, plan.Leverage); err != nil {
		return err
	}

	t.enter(StateEntering)
	t.markCooldown(ctx)
	qty, entry, err := t.placeEntry(ctx, plan.Quantity, price)
	if err != nil {
		return err
	}

	// позиция попадает в учёт до защиты: упавшая защита её не потеряет
	p := models.Position{
		Owner:      t.s.UserID,
		Exchange:   t.ex,
		Symbol:     t.sig.Symbol,
		Side:       t.sig.Side,
		Quantity:   qty,
		EntryPrice: entry,
		ATR:        t.sig.ATR,
	}
	if err := t.s.deps.Ledger.UpdatePosition(t.s.UserID, p); err != nil {
		t.log.Error("ledger write after entry", zap.Error(err))
	}
	t.res.Quantity = qty
	t.res.EntryPrice = entry

	t.protect(ctx, p, info)
	return nil
}

// refresh — позиция той же стороны уже есть: только пересчёт защиты
// от сохранённой цены входа, не от текущей.
func (t *attempt) refresh(ctx context.Context, pos models.Position) error {
	t.res.RefreshOnly = true
	t.markCooldown(ctx)

	if stored, ok := t.s.deps.Ledger.GetPosition(t.s.UserID, t.ex, pos.Symbol); ok {
		if stored.EntryPrice > 0 {
			pos.EntryPrice = stored.EntryPrice
		}
		pos.OpenedAt = stored.OpenedAt
		if t.sig.ATR == nil {
			t.sig.ATR = stored.ATR
		}
	}
	if t.sig.ATR != nil {
		pos.ATR = t.sig.ATR
	}
	pos.Owner = t.s.UserID
	pos.Exchange = t.ex

	info, err := t.info(ctx)
	if err != nil {
		return err
	}
	if err := t.s.deps.Ledger.UpdatePosition(t.s.UserID, pos); err != nil {
		t.log.Error("ledger write on refresh", zap.Error(err))
	}
	t.res.Quantity = pos.Quantity
	t.res.EntryPrice = pos.EntryPrice

	t.protect(ctx, pos, info)
	return nil
}

func (t *attempt) markCooldown(ctx context.Context) {
	if !t.fromSignal || t.cooldownSet || t.s.deps.Cooldown == nil {
		return
	}
	t.s.deps.Cooldown.Mark(ctx, t.ex, t.sig.Symbol, t.cfg.CooldownPerSymbol, t.sig.ATR)
	t.cooldownSet = true
}

// call — вызов биржи с таймаутом сессии. Ретраи живут в адаптерах.
func call[T any](ctx context.Context, t *attempt, fn func(ctx context.Context) (T, error)) (T, error) {
	cctx, cancel := t.s.timeout(ctx)
	defer cancel()
	return fn(cctx)
}

func (t *attempt) balance(ctx context.Context) (models.Balance, error) {
	bal, err := call(ctx, t, t.a.GetBalance)
	if err != nil {
		return models.Balance{}, fmt.Errorf("balance: %w", err)
	}
	bal.UpdatedAt = time.Now()
	t.s.deps.Ledger.UpdateBalance(t.s.UserID, t.ex, bal)
	bal, _ = t.s.deps.Ledger.GetBalance(t.s.UserID, t.ex)
	return bal, nil
}

func (t *attempt) position(ctx context.Context) (models.Position, bool, error) {
	type found struct {
		pos models.Position
		ok  bool
	}
	f, err := call(ctx, t, func(ctx context.Context) (found, error) {
		p, ok, err := exchange.FindPosition(ctx, t.a, t.sig.Symbol)
		return found{p, ok}, err
	})
	if err != nil {
		return models.Position{}, false, fmt.Errorf("positions: %w", err)
	}
	return f.pos, f.ok, nil
}

func (t *attempt) price(ctx context.Context) (float64, error) {
	px, err := call(ctx, t, func(ctx context.Context) (float64, error) {
		return t.a.GetLastPrice(ctx, t.sig.Symbol)
	})
	if err != nil {
		return 0, fmt.Errorf("price: %w", err)
	}
	if px <= 0 {
		return 0, fmt.Errorf("price %s: %w", t.sig.Symbol, models.ErrMarketDataUnavailable)
	}
	return px, nil
}

func (t *attempt) info(ctx context.Context) (models.SymbolInfo, error) {
	info, err := call(ctx, t, func(ctx context.Context) (models.SymbolInfo, error) {
		return t.a.GetSymbolInfo(ctx, t.sig.Symbol)
	})
	if err != nil {
		return models.SymbolInfo{}, fmt.Errorf("symbol info: %w", err)
	}
	return info, nil
}

func (t *attempt) leverage(ctx context.Context, lev int) error {
	_, err := call(ctx, t, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, exchange.IgnoreLeverageNotModified(t.a.SetLeverage(ctx, t.sig.Symbol, lev))
	})
	if err != nil {
		return fmt.Errorf("leverage %dx: %w", lev, err)
	}
	return nil
}

// placeEntry — маркет-вход. При неизвестном исходе смотрим позицию на
// бирже, а не шлём ордер ещё раз.
func (t *attempt) placeEntry(ctx context.Context, qty, estimate float64) (float64, float64, error) {
	req := models.OrderRequest{
		Exchange:     t.ex,
		Symbol:       t.sig.Symbol,
		Side:         t.sig.Side.EntrySide(),
		PositionSide: t.sig.Side,
		Type:         models.OrderMarket,
		Quantity:     qty,
		ClientID:     exchange.NewClientOrderID("in"),
	}
	r, err := call(ctx, t, func(ctx context.Context) (models.OrderResult, error) {
		return t.a.PlaceOrder(ctx, req)
	})
	if err != nil {
		if !models.UnknownOutcome(err) {
			return 0, 0, fmt.Errorf("entry: %w", err)
		}
		pos, found, qerr := t.position(ctx)
		if qerr != nil || !found || pos.Side != t.sig.Side {
			return 0, 0, fmt.Errorf("entry outcome unknown: %w", err)
		}
		t.log.Warn("entry timed out but position exists", zap.Float64("qty", pos.Quantity))
		return pos.Quantity, pos.EntryPrice, nil
	}
	if r.OrderID != "" {
		t.res.OrderIDs = append(t.res.OrderIDs, r.OrderID)
	}

	filled := r.FilledQty
	if filled <= 0 {
		filled = qty
	}
	fill := r.FillPrice
	if fill <= 0 {
		// биржа не вернула среднюю цену: берём из позиции
		if pos, found, err := t.position(ctx); err == nil && found && pos.EntryPrice > 0 {
			fill = pos.EntryPrice
		} else {
			fill = estimate
		}
	}
	return filled, fill, nil
}
