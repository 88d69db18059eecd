package main

import (
	"log"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"nexus_bot/internal/modules/bootstrap"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/modules/exchanges"
	"nexus_bot/internal/modules/health"
	"nexus_bot/internal/modules/postgres"
	"nexus_bot/internal/modules/redis"
	telegram "nexus_bot/internal/modules/telegram_bot"
	"nexus_bot/internal/runner"
	"nexus_bot/pkg/logger"
	"nexus_bot/pkg/tracing"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		config.Module(),
		logger.Module(),
		tracing.Module(),
		postgres.Module(),
		redis.Module(),
		exchanges.Module(),
		runner.Module(),
		telegram.Module(),
		health.Module(),
		bootstrap.Module(),
		// глобальный трейсер ставится в InitTracer, здесь только форсим провайдер
		fx.Invoke(func(opentracing.Tracer) {}),
	)
	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	app.Run()
}
