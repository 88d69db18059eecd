package sessions

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"nexus_bot/internal/models"
)

// ConfirmWorker разбирает очередь сигналов пользователя до отмены ctx.
// PILOT исполняет сразу, COPILOT спрашивает подтверждение, WATCHER
// только сообщает о сигнале.
func (s *UserSession) ConfirmWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-s.Queue:
			if !ok {
				return
			}
			s.handle(ctx, sig)
		}
	}
}

// execute — Execute под общим лимитом исполнений. Слот берётся только
// на само исполнение: ожидание ответа пользователя его не держит.
func (s *UserSession) execute(ctx context.Context, sig models.Signal) models.ExecutionResult {
	g := s.deps.Gate
	if g == nil {
		return s.Execute(ctx, sig)
	}
	if err := g.Acquire(ctx, 1); err != nil {
		return s.skip(models.ExecutionResult{Owner: s.UserID, Symbol: sig.Symbol, Side: sig.Side}, err)
	}
	defer g.Release(1)
	return s.Execute(ctx, sig)
}

func (s *UserSession) handle(ctx context.Context, sig models.Signal) models.ExecutionResult {
	cfg := s.Config()
	mode := s.Mode()
	s.log.Debug("signal", zap.String("symbol", sig.Symbol), zap.String("side", string(sig.Side)), zap.String("mode", string(mode)))

	switch mode {
	case models.ModeWatcher:
		if _, _, err := s.precheck(ctx, cfg, sig); err == nil && s.deps.Notifier != nil {
			s.deps.Notifier.Send(ctx, s.UserID, "👀 "+describe(sig))
		}
		return models.ExecutionResult{Owner: s.UserID, Symbol: sig.Symbol, Side: sig.Side, Status: models.StatusSkipped}

	case models.ModeCopilot:
		ex, _, err := s.precheck(ctx, cfg, sig)
		if err != nil {
			// без подтверждения: кулдаун, стратегия выключена, некуда роутить
			return s.execute(ctx, sig)
		}
		if s.deps.Notifier != nil {
			prompt := fmt.Sprintf("🔔 [%s] %s\nSL/TP будут выставлены после входа. Войти?", ex, describe(sig))
			if !s.deps.Notifier.Confirm(ctx, s.UserID, prompt, cfg.ConfirmTimeout) {
				if s.deps.Cooldown != nil {
					s.deps.Cooldown.Set(ctx, ex, sig.Symbol, cfg.CooldownPerSymbol)
				}
				s.deps.Notifier.Send(ctx, s.UserID, fmt.Sprintf("⛔️ [%s] %s: вход отменён/таймаут", ex, sig.Symbol))
				return models.ExecutionResult{Owner: s.UserID, Exchange: ex, Symbol: sig.Symbol, Side: sig.Side, Status: models.StatusSkipped}
			}
		}
	}
	return s.execute(ctx, sig)
}

func describe(sig models.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", sig.Symbol, sig.Side)
	if sig.Strategy != "" {
		fmt.Fprintf(&b, " (%s, conf=%.2f)", sig.Strategy, sig.Confidence)
	}
	if sig.ATR != nil {
		fmt.Fprintf(&b, " ATR=%g", *sig.ATR)
	}
	if sig.Reason != "" {
		b.WriteString("\n" + sig.Reason)
	}
	return b.String()
}
