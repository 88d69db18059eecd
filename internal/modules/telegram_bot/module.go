package telegram

import (
	"context"

	"go.uber.org/fx"

	"nexus_bot/internal/modules/telegram_bot/service"
	"nexus_bot/internal/notify"
	"nexus_bot/internal/runner"
)

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			service.NewTelegram,
		),

		// адаптер: *service.Telegram -> notify.Notifier
		fx.Provide(
			func(t *service.Telegram) notify.Notifier {
				return t
			},
		),

		// раннер зависит от Notifier, поэтому управление подключаем после сборки
		fx.Invoke(
			func(lc fx.Lifecycle, t *service.Telegram, m *runner.Manager) {
				t.Attach(m)

				ctx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						go t.Start(ctx)
						return nil
					},
					OnStop: func(context.Context) error {
						cancel()
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
