package engine

import (
	"option_bot/internal/broker"
	"option_bot/internal/engine"
	"option_bot/internal/engine/executor"
	"option_bot/internal/engine/lifecycle"
	"option_bot/internal/engine/selector"
	"option_bot/internal/engine/spread"
	"option_bot/internal/modules/config"
	deltastore "option_bot/internal/modules/deltastore/service"
	"option_bot/internal/notify"
	"option_bot/internal/runner/sessions"
	"option_bot/pkg/clock"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module собирает торговое ядро: спред, селектор, исполнитель, жизненный
// цикл позиции и реестр сессий аккаунтов.
func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			func() clock.Clock { return clock.New() },
			func(cfg *config.Config) *spread.Analyzer {
				return spread.NewAnalyzer(spread.Config{
					RatioThreshold: cfg.Execution.RatioThreshold,
					TickThreshold:  cfg.Execution.TickThreshold,
					CheckRatio:     cfg.Execution.CheckRatio,
					CheckTicks:     cfg.Execution.CheckTicks,
				})
			},
			func(cfg *config.Config, c clock.Clock, log *zap.Logger) *selector.Selector {
				sc := selector.DefaultConfig()
				sc.DeltaBuffer = cfg.Selection.DeltaBuffer
				sc.MaxCandidates = cfg.Selection.Candidates
				sc.CacheTTL = cfg.Selection.CacheTTL
				return selector.New(sc, c, log)
			},
			func(cfg *config.Config, a *spread.Analyzer, c clock.Clock, log *zap.Logger) *executor.Executor {
				ec := executor.DefaultConfig()
				ec.MaxSteps = cfg.Execution.MaxSteps
				ec.StepTimeout = cfg.Execution.StepTimeout
				return executor.New(ec, a, c, log)
			},
			func(cfg *config.Config, sel *selector.Selector, ex *executor.Executor, store deltastore.Store, n notify.Notifier, log *zap.Logger) *lifecycle.Manager {
				return lifecycle.New(lifecycle.Config{
					StopRatio:  cfg.Lifecycle.StopRatio,
					OpenMode:   selector.Mode(cfg.Selection.Mode),
					RollMode:   selector.Mode(cfg.Lifecycle.RollMode),
					DefaultDTE: cfg.Lifecycle.DefaultDTE,
				}, sel, ex, store, n, log)
			},
			func(cfg *config.Config, f broker.Factory) *sessions.Registry {
				return sessions.NewRegistry(cfg.Accounts, f)
			},
			engine.New,
		),
	)
}
