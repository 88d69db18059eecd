// migrate — создаёт таблицы журнала и настроек, по флагу переносит
// пользователей из файла в postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"nexus_bot/internal/journal"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/users"
	"nexus_bot/pkg/db"
)

func main() {
	importFile := flag.Bool("import-users", false, "перенести пользователей из users_file")
	flag.Parse()

	if err := run(context.Background(), *importFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("done")
}

func run(ctx context.Context, importFile bool) error {
	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	if cfg.DB == "" {
		return errors.New("db_dsn is empty")
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB, MaxConns: 2})
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	tx := db.NewPgTxManager(pool)
	defer tx.Close()

	if err := journal.NewPostgres(tx).Migrate(ctx); err != nil {
		return err
	}
	store := users.NewPostgres(tx)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("schema ok")

	if !importFile {
		return nil
	}
	list, err := users.NewFile(cfg.UsersFile).List(ctx)
	if err != nil {
		return errors.Wrapf(err, "read %s", cfg.UsersFile)
	}
	for _, u := range list {
		if err := store.Save(ctx, u); err != nil {
			return errors.Wrapf(err, "save user %d", u.UserID)
		}
	}
	fmt.Printf("%d users imported from %s\n", len(list), cfg.UsersFile)
	return nil
}
