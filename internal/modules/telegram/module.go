package telegram

import (
	"context"

	"option_bot/internal/modules/config"
	"option_bot/internal/modules/telegram/service"
	"option_bot/internal/notify"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module отдаёт notify.Notifier: Telegram при заданном токене, иначе лог.
func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			func(cfg *config.Config, log *zap.Logger) (*notify.Telegram, error) {
				if cfg.Telegram.Token == "" {
					log.Warn("telegram token is empty, notifications go to log")
					return nil, nil
				}
				return notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
			},
			func(t *notify.Telegram, log *zap.Logger) notify.Notifier {
				if t == nil {
					return notify.NewLog(log)
				}
				return t
			},
			service.NewReports,
		),
		fx.Invoke(
			func(lc fx.Lifecycle, t *notify.Telegram, r *service.Reports) {
				if t == nil {
					return
				}
				t.Handle("positions", r.Positions)
				t.Handle("status", r.Status)

				ctx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						return t.Start(ctx)
					},
					OnStop: func(context.Context) error {
						cancel()
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
