// Package notify — исходящие сообщения пользователю.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nexus_bot/internal/models"
	"nexus_bot/pkg/logger"
)

// Notifier — канал до пользователя. Telegram в проде, Stdout без токена.
type Notifier interface {
	Notify(ctx context.Context, owner int64, res models.ExecutionResult)
	Send(ctx context.Context, owner int64, text string)
	// Confirm ждёт ответа пользователя; false на отказ и таймаут.
	Confirm(ctx context.Context, owner int64, prompt string, timeout time.Duration) bool
}

// Stdout — всё в лог, подтверждения автоматически принимаются.
type Stdout struct {
	log *zap.Logger
}

func NewStdout(log *zap.Logger) *Stdout {
	if log == nil {
		log = logger.L()
	}
	return &Stdout{log: log.With(zap.String("component", "notify"))}
}

func (s *Stdout) Notify(_ context.Context, owner int64, res models.ExecutionResult) {
	s.log.Info(Format(res), zap.Int64("owner", owner), zap.String("status", string(res.Status)))
}

func (s *Stdout) Send(_ context.Context, owner int64, text string) {
	s.log.Info(text, zap.Int64("owner", owner))
}

func (s *Stdout) Confirm(_ context.Context, owner int64, prompt string, _ time.Duration) bool {
	s.log.Info("confirm (auto-yes): "+prompt, zap.Int64("owner", owner))
	return true
}
