package deltastore

import (
	"context"

	"option_bot/internal/modules/config"
	"option_bot/internal/modules/deltastore/service"
	"option_bot/internal/modules/deltastore/service/pg"
	"option_bot/internal/modules/deltastore/service/sqlite"
	"option_bot/pkg/clock"
	"option_bot/pkg/db"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module выбирает бэкенд delta-записей по store.driver.
func Module() fx.Option {
	return fx.Module("deltastore",
		fx.Provide(newStore),
	)
}

func newStore(lc fx.Lifecycle, ctx context.Context, cfg *config.Config, tm *db.PgTxManager, c clock.Clock, log *zap.Logger) (service.Store, error) {
	log = log.Named("deltastore").With(zap.String("driver", cfg.Store.Driver))

	switch cfg.Store.Driver {
	case "postgres":
		if tm == nil {
			return nil, errors.New("postgres pool is not initialized")
		}
		s := pg.New(tm)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		log.Info("store ready")
		return s, nil

	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Store.SQLitePath, c)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return s.Close() },
		})
		log.Info("store ready", zap.String("path", cfg.Store.SQLitePath))
		return s, nil

	case "memory":
		log.Warn("in-memory store: delta records are lost on restart")
		return service.NewMemory(c), nil
	}
	return nil, errors.Errorf("unknown store driver %q", cfg.Store.Driver)
}
