package runner

import (
	"context"

	"option_bot/internal/engine/lifecycle"
	"option_bot/internal/modules/config"
	deltastore "option_bot/internal/modules/deltastore/service"
	"option_bot/internal/runner/sessions"
	"option_bot/pkg/clock"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			func(cfg *config.Config, reg *sessions.Registry, lm *lifecycle.Manager, store deltastore.Store, c clock.Clock, log *zap.Logger) *Monitor {
				return NewMonitor(Config{
					PositionInterval:       cfg.Polling.PositionInterval,
					OrderInterval:          cfg.Polling.OrderInterval,
					InterPositionDelay:     cfg.Polling.InterPositionDelay,
					MaxConsecutiveFailures: cfg.Polling.MaxConsecutiveFailures,
					ROIThreshold:           cfg.Polling.ROIThreshold,
					StartupBurst:           cfg.Polling.StartupBurst,
				}, reg, lm, store, c, log)
			},
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			m *Monitor,
			ctx context.Context,
		) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					m.Start(ctx)
					return nil
				},
				OnStop: func(_ context.Context) error {
					return m.Stop()
				},
			})
		}),
	)
}
