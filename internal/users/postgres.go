package users

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"nexus_bot/internal/models"
	"nexus_bot/pkg/db"
)

const Schema = `
CREATE TABLE IF NOT EXISTS user_configs (
	user_id    BIGINT PRIMARY KEY,
	name       TEXT        NOT NULL DEFAULT '',
	config     JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const (
	selectConfig = `SELECT config FROM user_configs WHERE user_id = $1`
	selectAll    = `SELECT config FROM user_configs ORDER BY user_id`
	upsertConfig = `
INSERT INTO user_configs (user_id, name, config, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name, config = EXCLUDED.config, updated_at = now()`
)

// Postgres — настройки в таблице user_configs, сам конфиг в jsonb.
type Postgres struct {
	db db.TxManager
}

func NewPostgres(tx db.TxManager) *Postgres { return &Postgres{db: tx} }

func (p *Postgres) Migrate(ctx context.Context) error {
	err := p.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, Schema)
		return err
	})
	return errors.Wrap(err, "users migrate")
}

func (p *Postgres) Get(ctx context.Context, userID int64) (cfg *models.UserConfig, err error) {
	err = p.db.RunRepeatableRead(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		var raw []byte
		if err := tx.QueryRow(ctxTx, selectConfig, userID).Scan(&raw); err != nil {
			return err
		}
		cfg, err = decode(raw)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "users.Get %d", userID)
	}
	return cfg, nil
}

func (p *Postgres) Save(ctx context.Context, cfg *models.UserConfig) error {
	data, err := sonic.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "users.Save encode")
	}
	err = p.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, upsertConfig, cfg.UserID, cfg.Name, data)
		return err
	})
	return errors.Wrapf(err, "users.Save %d", cfg.UserID)
}

func (p *Postgres) List(ctx context.Context) (out []*models.UserConfig, err error) {
	err = p.db.RunRepeatableRead(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctxTx, selectAll)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			cfg, err := decode(raw)
			if err != nil {
				return err
			}
			out = append(out, cfg)
		}
		return rows.Err()
	})
	return out, errors.Wrap(err, "users.List")
}

func decode(raw []byte) (*models.UserConfig, error) {
	var cfg models.UserConfig
	if err := sonic.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
