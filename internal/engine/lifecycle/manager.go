// Package lifecycle ведёт позицию от открытия до закрытия: open, reduce,
// close, stop и перекат (roll) на новый страйк.
package lifecycle

import (
	"context"

	"option_bot/internal/broker"
	"option_bot/internal/engine/executor"
	"option_bot/internal/engine/selector"
	"option_bot/internal/models"
	deltastore "option_bot/internal/modules/deltastore/service"
	"option_bot/internal/notify"

	"go.uber.org/zap"
)

type Config struct {
	StopRatio  float64
	OpenMode   selector.Mode
	RollMode   selector.Mode
	DefaultDTE int // min expire days для roll, если в записи пусто
}

func DefaultConfig() Config {
	return Config{
		StopRatio:  0.5,
		OpenMode:   selector.ModeChainScan,
		RollMode:   selector.ModeNearestExpiry,
		DefaultDTE: 7,
	}
}

type Manager struct {
	cfg      Config
	selector *selector.Selector
	executor *executor.Executor
	store    deltastore.Store
	notifier notify.Notifier
	log      *zap.Logger
}

func New(cfg Config, sel *selector.Selector, ex *executor.Executor, store deltastore.Store, n notify.Notifier, log *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.StopRatio <= 0 || cfg.StopRatio > 1 {
		cfg.StopRatio = def.StopRatio
	}
	if cfg.OpenMode == "" {
		cfg.OpenMode = def.OpenMode
	}
	if cfg.RollMode == "" {
		cfg.RollMode = def.RollMode
	}
	if cfg.DefaultDTE <= 0 {
		cfg.DefaultDTE = def.DefaultDTE
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, selector: sel, executor: ex, store: store, notifier: n, log: log.Named("lifecycle")}
}

func (m *Manager) Store() deltastore.Store { return m.store }

// Outcome — итог одного действия над позицией.
type Outcome struct {
	Action     models.Action
	Instrument string
	Execution  models.Execution
	Record     *models.DeltaRecord
	Closed     bool // запись удалена после полного закрытия
}

func (m *Manager) notify(ctx context.Context, format string, args ...any) {
	if m.notifier == nil {
		return
	}
	m.notifier.Sendf(ctx, format, args...)
}

// livePosition находит живую позицию по инструменту.
func livePosition(ctx context.Context, b broker.Broker, currency, instrument string) (models.Position, bool, error) {
	positions, err := b.Positions(ctx, currency)
	if err != nil {
		return models.Position{}, false, err
	}
	for _, p := range positions {
		if p.InstrumentName == instrument && p.Size != 0 {
			return p, true, nil
		}
	}
	return models.Position{}, false, nil
}

// optionPlan: что покупать или продавать под действие с учётом
// option_direction аккаунта.
func optionPlan(action models.Action, side models.Direction) (models.OptionType, models.Direction) {
	if side != models.Sell {
		side = models.Buy
	}
	long := action.IsLong()
	switch {
	case long && side == models.Buy:
		return models.OptionCall, models.Buy
	case long && side == models.Sell:
		return models.OptionPut, models.Sell
	case !long && side == models.Buy:
		return models.OptionPut, models.Buy
	default:
		return models.OptionCall, models.Sell
	}
}

func signedDelta(abs float64, t models.OptionType) float64 {
	if abs < 0 {
		abs = -abs
	}
	if t == models.OptionPut {
		return -abs
	}
	return abs
}
