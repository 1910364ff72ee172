package deribit

import (
	"context"

	"option_bot/internal/broker"
	"option_bot/internal/modules/config"
	"option_bot/internal/modules/deribit/service"
	"option_bot/pkg/clock"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module отдаёт broker.Factory: Deribit или бумажная торговля на живых котировках.
func Module() fx.Option {
	return fx.Module("deribit",
		fx.Provide(
			func(cfg *config.Config, c clock.Clock, log *zap.Logger) *service.Factory {
				return service.NewFactory(service.Options{
					Kind:      cfg.Broker.Kind,
					Transport: cfg.Broker.Transport,
					URL:       cfg.Broker.URL,
					TestURL:   cfg.Broker.TestURL,
					WSURL:     cfg.Broker.WSURL,
					TestWSURL: cfg.Broker.TestWSURL,
					Timeout:   cfg.Broker.Timeout,
				}, c, log)
			},
			func(f *service.Factory) broker.Factory { return f },
		),
		fx.Invoke(func(lc fx.Lifecycle, f *service.Factory) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					return f.Close()
				},
			})
		}),
	)
}
