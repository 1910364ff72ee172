package config

import (
	"option_bot/internal/models"

	"go.uber.org/fx"
)

// Module отдаёт *Config и список аккаунтов.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			func(cfg *Config) []models.Account { return cfg.Accounts },
		),
	)
}
