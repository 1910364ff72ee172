package postgres

import (
	"context"
	"fmt"

	"option_bot/internal/modules/config"
	"option_bot/pkg/db"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module отдаёт пул Postgres. Пул поднимается только для store.driver=postgres,
// иначе провайдер возвращает nil.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(lc fx.Lifecycle, ctx context.Context, cfg *config.Config, log *zap.Logger) (*db.PgTxManager, error) {
				if cfg.Store.Driver != "postgres" {
					return nil, nil
				}
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.DB,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					poolMaster.Close()
					return nil, err
				}
				log.Info("postgres connected")

				tm := db.NewPgTxManager(poolMaster)
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						tm.Close()
						return nil
					},
				})
				return tm, nil
			},
		),
	)
}
