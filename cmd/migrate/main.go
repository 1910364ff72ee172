package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"option_bot/internal/modules/config"
	"option_bot/internal/modules/deltastore/service/pg"
	"option_bot/internal/modules/deltastore/service/sqlite"
	"option_bot/pkg/clock"
	"option_bot/pkg/db"

	"github.com/pkg/errors"
)

// migrate создаёт таблицу delta_records в выбранном store.driver
// или печатает DDL (-dump) для ручного применения.
func main() {
	dump := flag.Bool("dump", false, "print DDL for the configured driver and exit")
	flag.Parse()

	if err := run(context.Background(), *dump); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dump bool) error {
	cfg, err := config.NewConfig()
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	switch cfg.Store.Driver {
	case "postgres":
		if dump {
			fmt.Println(pg.Schema())
			return nil
		}
		pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB, MaxConns: 1})
		if err != nil {
			return errors.Wrap(err, "connect postgres")
		}
		tm := db.NewPgTxManager(pool)
		defer tm.Close()
		if err := pg.New(tm).Migrate(ctx); err != nil {
			return err
		}

	case "sqlite":
		if dump {
			fmt.Println(sqlite.Schema())
			return nil
		}
		s, err := sqlite.Open(ctx, cfg.Store.SQLitePath, clock.New())
		if err != nil {
			return err
		}
		if err := s.Close(); err != nil {
			return errors.Wrap(err, "close sqlite")
		}

	default:
		return errors.Errorf("store.driver %q has no schema", cfg.Store.Driver)
	}

	fmt.Printf("delta_records ready (%s)\n", cfg.Store.Driver)
	return nil
}
