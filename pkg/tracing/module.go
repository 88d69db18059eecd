package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("tracing",
		fx.Provide(
			func(lc fx.Lifecycle, conf Config) (opentracing.Tracer, error) {
				tracer, closeFn, err := InitTracer(conf)
				if err != nil {
					return nil, err
				}
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						closeFn()
						return nil
					},
				})
				return tracer, nil
			},
		),
	)
}
