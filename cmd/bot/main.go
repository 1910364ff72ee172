package main

import (
	"context"

	"option_bot/internal/modules/config"
	"option_bot/internal/modules/deltastore"
	"option_bot/internal/modules/deribit"
	"option_bot/internal/modules/engine"
	"option_bot/internal/modules/health"
	"option_bot/internal/modules/logging"
	"option_bot/internal/modules/postgres"
	"option_bot/internal/modules/telegram"
	"option_bot/internal/modules/webhook"
	"option_bot/internal/runner"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return ctx
			},
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		config.Module(),
		logging.Module(),
		postgres.Module(),
		deltastore.Module(),
		deribit.Module(),
		telegram.Module(),
		engine.Module(),
		runner.Module(),
		webhook.Module(),
		health.Module(),
	)
	app.Run()
}
