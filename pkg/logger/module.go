package logger

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	ServiceName string
	Level       string
}

func Module() fx.Option {
	return fx.Module("logger",
		fx.Provide(
			func(p Params) (*zap.Logger, error) {
				SetServiceName(p.ServiceName)
				return Init(p.Level)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, l *zap.Logger) {
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					_ = l.Sync()
					return nil
				},
			})
		}),
	)
}
