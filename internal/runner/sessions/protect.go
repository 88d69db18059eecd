package sessions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"nexus_bot/internal/models"
	"nexus_bot/internal/protection"
	"nexus_bot/internal/risk"
)

// protect выставляет SL/TP/трейлинг и проверяет их. Ошибки не фатальны:
// неполная защита даёт статус partial и одно предупреждение, позиция
// остаётся в учёте с флагом для монитора.
func (t *attempt) protect(ctx context.Context, pos models.Position, info models.SymbolInfo) {
	t.enter(StateProtecting)

	steps, err := t.plan(pos, info)
	if err != nil {
		t.enter(StateVerifying)
		t.incomplete(pos, levels{}, fmt.Sprintf("план защиты: %v", err))
		return
	}

	failures := t.placeSteps(ctx, steps)

	t.enter(StateVerifying)
	open, err := t.openOrders(ctx)
	if err != nil {
		t.incomplete(pos, levels{}, fmt.Sprintf("не удалось прочитать ордера: %v", err))
		return
	}
	missing := protection.Missing(steps, open)

	if len(missing) > 0 {
		open, failures = t.retryMissing(ctx, pos, missing, failures)
		missing = protection.Missing(steps, open)
	}

	landed := typesOf(open)
	if len(missing) == 0 {
		t.landed(pos, steps, landed)
		return
	}

	var parts []string
	for _, st := range missing {
		part := string(st.Order.Type)
		if err := failures[st.Order.Type]; err != nil {
			part += " (" + err.Error() + ")"
		}
		parts = append(parts, part)
	}
	sort.Strings(parts)
	t.incomplete(pos, landedLevels(steps, landed), "нет "+strings.Join(parts, ", "))
}

func (t *attempt) plan(pos models.Position, info models.SymbolInfo) ([]protection.Step, error) {
	anchor := pos.EntryPrice
	sl, tp, err := risk.Levels(pos.Side, pos.EntryPrice, pos.ATR, *t.cfg)
	if t.be != nil {
		anchor, sl, tp, err = t.be.apply(pos, *t.cfg)
	}
	if err != nil {
		return nil, err
	}
	return t.s.deps.Planner.Plan(protection.Input{
		Exchange:    t.ex,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  anchor,
		Quantity:    pos.Quantity,
		Protection:  models.ProtectionPlan{StopLoss: sl, TakeProfit: tp, Trailing: risk.Trailing(tp, *t.cfg)},
		Info:        info,
		WorkingType: t.s.deps.Options.WorkingType,
	})
}

// placeSteps исполняет план по порядку. Отказ одного ордера не
// прерывает остальные.
func (t *attempt) placeSteps(ctx context.Context, steps []protection.Step) map[models.OrderType]error {
	failures := make(map[models.OrderType]error)
	for _, st := range steps {
		if st.Exchange != t.ex {
			t.log.Error("protection step for another exchange", zap.String("step_exchange", string(st.Exchange)))
			failures[st.Order.Type] = fmt.Errorf("step for %s: %w", st.Exchange, models.ErrRouting)
			continue
		}
		if st.CancelAll {
			cctx, cancel := t.s.timeout(ctx)
			err := t.a.CancelAllOrders(cctx, st.Symbol)
			cancel()
			if err != nil {
				t.log.Warn("cancel existing orders", zap.Error(err))
			}
			continue
		}
		if err := t.placeProtective(ctx, st.Order); err != nil {
			t.log.Warn("protective order failed", zap.String("type", string(st.Order.Type)), zap.Error(err))
			failures[st.Order.Type] = err
		}
	}
	return failures
}

// placeProtective: на таймауте сначала смотрим открытые ордера, ордер
// мог пройти на бирже.
func (t *attempt) placeProtective(ctx context.Context, req models.OrderRequest) error {
	r, err := call(ctx, t, func(ctx context.Context) (models.OrderResult, error) {
		return t.a.PlaceOrder(ctx, req)
	})
	if err == nil {
		if r.OrderID != "" {
			t.res.OrderIDs = append(t.res.OrderIDs, r.OrderID)
		}
		return nil
	}
	if models.UnknownOutcome(err) {
		if open, qerr := t.openOrders(ctx); qerr == nil && typesOf(open)[req.Type] {
			t.log.Info("protective order landed despite timeout", zap.String("type", string(req.Type)))
			return nil
		}
	}
	return err
}

// retryMissing — один повтор с заново округлёнными ценами. Перед ним
// перечитываем ордера: если такой тип уже появился, повтор пропускаем,
// иначе получили бы дубль.
func (t *attempt) retryMissing(ctx context.Context, pos models.Position, missing []protection.Step, failures map[models.OrderType]error) ([]models.Order, map[models.OrderType]error) {
	info, err := t.info(ctx)
	if err != nil {
		t.log.Warn("refresh symbol info before retry", zap.Error(err))
	}
	fresh, err := t.plan(pos, info)
	if err != nil {
		t.log.Warn("replan protection", zap.Error(err))
		fresh = missing
	}

	open, err := t.openOrders(ctx)
	if err != nil {
		return nil, failures
	}
	have := typesOf(open)
	want := make(map[models.OrderType]bool, len(missing))
	for _, st := range missing {
		want[st.Order.Type] = true
	}

	for _, st := range fresh {
		if st.CancelAll || !want[st.Order.Type] {
			continue
		}
		if have[st.Order.Type] {
			t.log.Info("skip retry", zap.String("type", string(st.Order.Type)), zap.Error(models.ErrDuplicateOrderRisk))
			delete(failures, st.Order.Type)
			continue
		}
		if err := t.placeProtective(ctx, st.Order); err != nil {
			t.log.Warn("protective retry failed", zap.String("type", string(st.Order.Type)), zap.Error(err))
			failures[st.Order.Type] = err
		} else {
			delete(failures, st.Order.Type)
		}
	}

	open, err = t.openOrders(ctx)
	if err != nil {
		return nil, failures
	}
	return open, failures
}

func (t *attempt) openOrders(ctx context.Context) ([]models.Order, error) {
	return call(ctx, t, func(ctx context.Context) ([]models.Order, error) {
		return t.a.GetOpenOrders(ctx, t.sig.Symbol)
	})
}

type levels struct {
	sl, tp   *float64
	trailing *models.TrailingSpec
}

// landedLevels — уровни только тех ордеров, что реально стоят на бирже.
func landedLevels(steps []protection.Step, landed map[models.OrderType]bool) levels {
	var lv levels
	for _, st := range steps {
		if st.CancelAll || !landed[st.Order.Type] {
			continue
		}
		switch st.Order.Type {
		case models.OrderStop:
			lv.sl = models.Float(st.Order.Params.TriggerPrice)
		case models.OrderTakeProfit:
			lv.tp = models.Float(st.Order.Params.TriggerPrice)
		case models.OrderTrailingStop:
			lv.trailing = &models.TrailingSpec{
				ActivationPrice: st.Order.Params.ActivationPrice,
				CallbackPct:     st.Order.Params.CallbackPct,
			}
		}
	}
	return lv
}

func (t *attempt) landed(pos models.Position, steps []protection.Step, landed map[models.OrderType]bool) {
	lv := landedLevels(steps, landed)
	pos.StopLoss, pos.TakeProfit, pos.Trailing = lv.sl, lv.tp, lv.trailing
	pos.ProtectionIncomplete = false
	t.store(pos)
	t.res.SLPrice, t.res.TPPrice = lv.sl, lv.tp
}

// incomplete — единственное место, где появляется предупреждение о
// неполной защите.
func (t *attempt) incomplete(pos models.Position, lv levels, reason string) {
	pos.StopLoss, pos.TakeProfit, pos.Trailing = lv.sl, lv.tp, lv.trailing
	pos.ProtectionIncomplete = true
	t.store(pos)

	t.res.SLPrice, t.res.TPPrice = lv.sl, lv.tp
	t.res.Status = models.StatusPartial
	t.res.Err = models.ErrProtectionIncomplete
	t.res.Warn(fmt.Sprintf("%v: %s", models.ErrProtectionIncomplete, reason))
	t.log.Warn("protection incomplete", zap.String("reason", reason))
}

func (t *attempt) store(pos models.Position) {
	if err := t.s.deps.Ledger.UpdatePosition(t.s.UserID, pos); err != nil {
		t.log.Error("ledger write after protection", zap.Error(err))
	}
}

func typesOf(open []models.Order) map[models.OrderType]bool {
	m := make(map[models.OrderType]bool, len(open))
	for _, o := range open {
		m[o.Type] = true
	}
	return m
}
