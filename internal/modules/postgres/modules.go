package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"nexus_bot/internal/journal"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/users"
	"nexus_bot/pkg/db"
)

type Result struct {
	fx.Out

	Journal journal.Recorder
	Users   users.Store
}

// New — журнал и настройки в postgres. Без DSN журнал выключен,
// а настройки пишутся в файл.
func New(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (Result, error) {
	if cfg.DB == "" {
		log.Warn("db_dsn is empty, journal disabled", zap.String("users_file", cfg.UsersFile))
		return Result{Journal: journal.Noop{}, Users: users.NewFile(cfg.UsersFile)}, nil
	}

	ctx := context.Background()
	poolMaster, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create poolMaster: %w", err)
	}
	if err := poolMaster.Ping(ctx); err != nil {
		poolMaster.Close()
		return Result{}, fmt.Errorf("ping postgres: %w", err)
	}
	tx := db.NewPgTxManager(poolMaster)

	j := journal.NewPostgres(tx)
	u := users.NewPostgres(tx)
	if err := j.Migrate(ctx); err != nil {
		tx.Close()
		return Result{}, err
	}
	if err := u.Migrate(ctx); err != nil {
		tx.Close()
		return Result{}, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tx.Close()
			return nil
		},
	})
	return Result{Journal: j, Users: u}, nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(New),
	)
}
