package config

import (
	"go.uber.org/fx"

	"nexus_bot/pkg/logger"
	"nexus_bot/pkg/tracing"
)

func LoggerParams(cfg *Config) logger.Params {
	return logger.Params{ServiceName: cfg.Service.Name, Level: cfg.Service.LogLevel}
}

func TracingConfig(cfg *Config) tracing.Config {
	tracing.SetServiceName(cfg.Service.Name)
	return tracing.Config{Enabled: cfg.Tracing.Enabled, Host: cfg.Tracing.Host, Port: cfg.Tracing.Port}
}

// Module отдаёт Config и производные настройки для logger и tracing.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			LoggerParams,
			TracingConfig,
		),
	)
}
