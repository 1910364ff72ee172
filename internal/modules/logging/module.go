package logging

import (
	"context"

	"option_bot/internal/modules/config"
	"option_bot/pkg/logger"
	"option_bot/pkg/tracing"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module поднимает zap и jaeger-трейсер (noop без tracing.host).
func Module() fx.Option {
	return fx.Module("logging",
		fx.Provide(
			func(cfg *config.Config) (*zap.Logger, error) {
				return logger.New(logger.Config{
					Service:     cfg.Service.Name,
					Level:       cfg.Log.Level,
					Development: cfg.Log.Development,
				})
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) error {
			closer, err := tracing.Init(tracing.Config{
				ServiceName: cfg.Service.Name,
				AgentHost:   cfg.Tracing.Host,
				AgentPort:   cfg.Tracing.Port,
				SampleRate:  cfg.Tracing.SampleRate,
			})
			if err != nil {
				return err
			}
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					if err := closer.Close(); err != nil {
						log.Warn("tracer close", zap.Error(err))
					}
					_ = log.Sync()
					return nil
				},
			})
			return nil
		}),
	)
}
