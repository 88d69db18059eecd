// Package journal пишет итоги исполнений в postgres.
package journal

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"nexus_bot/internal/models"
	"nexus_bot/pkg/db"
)

// Recorder — куда сессия складывает каждый терминальный результат.
type Recorder interface {
	Record(ctx context.Context, res models.ExecutionResult) error
}

const Schema = `
CREATE TABLE IF NOT EXISTS executions (
	id           BIGSERIAL PRIMARY KEY,
	owner_id     BIGINT      NOT NULL,
	exchange     TEXT        NOT NULL,
	symbol       TEXT        NOT NULL,
	side         TEXT        NOT NULL,
	status       TEXT        NOT NULL,
	strategy     TEXT        NOT NULL DEFAULT '',
	quantity     DOUBLE PRECISION NOT NULL DEFAULT 0,
	entry_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
	sl_price     DOUBLE PRECISION,
	tp_price     DOUBLE PRECISION,
	flipped      BOOLEAN     NOT NULL DEFAULT FALSE,
	refresh_only BOOLEAN     NOT NULL DEFAULT FALSE,
	warnings     TEXT        NOT NULL DEFAULT '',
	error        TEXT        NOT NULL DEFAULT '',
	trace        TEXT        NOT NULL DEFAULT '',
	finished_at  TIMESTAMPTZ NOT NULL
)`

const insertExecution = `
INSERT INTO executions (
	owner_id, exchange, symbol, side, status, strategy, quantity, entry_price,
	sl_price, tp_price, flipped, refresh_only, warnings, error, trace, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

type Postgres struct {
	tx db.TxManager
}

func NewPostgres(tx db.TxManager) *Postgres { return &Postgres{tx: tx} }

// Migrate создаёт таблицу, если её нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	err := p.tx.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, Schema)
		return err
	})
	return errors.Wrap(err, "journal migrate")
}

func (p *Postgres) Record(ctx context.Context, res models.ExecutionResult) error {
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	err := p.tx.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, insertExecution,
			res.Owner, string(res.Exchange), res.Symbol, string(res.Side), string(res.Status), res.Strategy,
			res.Quantity, res.EntryPrice, res.SLPrice, res.TPPrice, res.Flipped, res.RefreshOnly,
			strings.Join(res.Warnings, "\n"), errText, strings.Join(res.Trace, ">"), res.FinishedAt,
		)
		return err
	})
	return errors.Wrapf(err, "journal record %s %s", res.Exchange, res.Symbol)
}

// Noop — когда DSN не задан.
type Noop struct{}

func (Noop) Record(context.Context, models.ExecutionResult) error { return nil }
