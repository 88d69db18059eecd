package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/models"
)

var errStillOpen = errors.New("position still open after close")

// flip закрывает встречную позицию и ждёт, пока биржа подтвердит ноль.
// Новый вход только после этого, иначе получим сумму вместо разворота.
// Кулдаун ставится позже, на входе (ENTERING).
func (t *attempt) flip(ctx context.Context, pos models.Position) error {
	t.res.Flipped = true
	t.log.Info("flip", zap.String("from", string(pos.Side)), zap.Float64("qty", pos.Quantity))

	exit, err := t.closeAndConfirm(ctx, pos)
	if err != nil {
		return fmt.Errorf("flip: %w", err)
	}
	if t.s.recordClose(closePnL(pos, exit)) {
		t.res.Warn("серия убытков: автоторговля переведена в COPILOT")
	}
	return nil
}

// closeAndConfirm снимает ордера по символу, закрывает позицию reduce-only
// маркетом и проверяет, что её больше нет. Возвращает цену выхода.
func (t *attempt) closeAndConfirm(ctx context.Context, pos models.Position) (float64, error) {
	cctx, cancel := t.s.timeout(ctx)
	if err := t.a.CancelAllOrders(cctx, pos.Symbol); err != nil {
		t.log.Warn("cancel orders before close", zap.Error(err))
	}
	cancel()

	cctx, cancel = t.s.timeout(ctx)
	r, err := exchange.ClosePosition(cctx, t.a, pos)
	cancel()
	if err != nil && !models.UnknownOutcome(err) {
		return 0, fmt.Errorf("close %s: %w", pos.Side, err)
	}

	for i := 0; i < t.s.deps.Options.FlipChecks; i++ {
		if i > 0 {
			if err := sleep(ctx, t.s.deps.Options.FlipSettleDelay); err != nil {
				return 0, err
			}
		}
		cur, found, qerr := t.position(ctx)
		if qerr != nil {
			continue
		}
		if !found || cur.Side != pos.Side {
			t.s.deps.Ledger.RemovePosition(t.s.UserID, t.ex, pos.Symbol)
			return r.FillPrice, nil
		}
		pos = cur
	}

	// учёт должен отражать то, что осталось на бирже
	pos.Owner = t.s.UserID
	if err := t.s.deps.Ledger.UpdatePosition(t.s.UserID, pos); err != nil {
		t.log.Error("ledger write after failed close", zap.Error(err))
	}
	return 0, fmt.Errorf("%s %s qty %.8f: %w", pos.Symbol, pos.Side, pos.Quantity, errStillOpen)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tm.C:
		return nil
	}
}
