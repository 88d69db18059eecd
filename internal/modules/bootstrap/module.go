package bootstrap

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	bootstrap "nexus_bot/internal/modules/bootstrap/service"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/modules/health/service"
	"nexus_bot/internal/runner"
)

func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(
			func(m *runner.Manager) bootstrap.Sessions { return m },
			func(s *service.State) bootstrap.Ready { return s },
			bootstrap.NewWarmuper,
		),
		// после runner: сессии к этому моменту уже подняты
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, _ *runner.Manager, wu *bootstrap.Warmuper, log *zap.Logger) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						if err := wu.Warmup(ctx, cfg.Watchlist); err != nil {
							log.Warn("warmup", zap.Error(err))
						}
					}()
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
