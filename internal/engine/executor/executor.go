// Package executor ставит лимитные ордера: сразу по середине спреда, если
// рынок неликвидный, или пошагово двигая цену к лучшей котировке.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"option_bot/internal/broker"
	"option_bot/internal/engine/spread"
	"option_bot/internal/helper"
	"option_bot/internal/metrics"
	"option_bot/internal/models"
	"option_bot/pkg/clock"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	MaxSteps    int
	StepTimeout time.Duration
	LabelPrefix string
}

func DefaultConfig() Config {
	return Config{MaxSteps: 3, StepTimeout: 8 * time.Second, LabelPrefix: "optbot"}
}

type Request struct {
	Instrument models.Instrument
	Direction  models.Direction
	Quantity   float64
	QtyType    models.QtyType
	// IndexPrice нужен для cash-объёма, если в тикере нет цены базового актива.
	IndexPrice float64
	// MaxQuantity ограничивает объём сверху (размер закрываемой позиции).
	MaxQuantity float64
	ReduceOnly  bool
	Label       string
}

type Executor struct {
	cfg      Config
	analyzer *spread.Analyzer
	clock    clock.Clock
	log      *zap.Logger
}

func New(cfg Config, analyzer *spread.Analyzer, c clock.Clock, log *zap.Logger) *Executor {
	def := DefaultConfig()
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = def.MaxSteps
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if cfg.LabelPrefix == "" {
		cfg.LabelPrefix = def.LabelPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{cfg: cfg, analyzer: analyzer, clock: c, log: log.Named("executor")}
}

func (e *Executor) Analyzer() *spread.Analyzer { return e.analyzer }

// Execute приводит объём и цену к требованиям биржи и выбирает стратегию
// по ликвидности котировки.
func (e *Executor) Execute(ctx context.Context, b broker.Broker, req Request) (models.Execution, error) {
	inst := req.Instrument
	if req.Quantity <= 0 || !helper.IsFinite(req.Quantity) {
		return models.Execution{}, models.Errorf(models.ValidationFailure, "quantity must be positive, got %v", req.Quantity)
	}

	t, err := b.Ticker(ctx, inst.Name)
	if err != nil {
		return models.Execution{}, models.WrapKind(models.ExecutionFailure, err, "fetch quote "+inst.Name)
	}
	if !t.Valid() {
		return models.Execution{}, models.Errorf(models.ExecutionFailure,
			"no valid quote for %s (bid=%v ask=%v)", inst.Name, t.Bid, t.Ask)
	}

	entry := t.Mid()
	qty, err := e.quantity(req, t, entry)
	if err != nil {
		return models.Execution{}, err
	}
	price := helper.RoundToTick(entry, inst.TickSize)

	label := req.Label
	if label == "" {
		label = fmt.Sprintf("%s-%s", e.cfg.LabelPrefix, uuid.NewString())
	}
	order := models.OrderRequest{
		Instrument: inst.Name,
		Direction:  req.Direction,
		Amount:     qty,
		Price:      price,
		Label:      label,
		ReduceOnly: req.ReduceOnly,
	}

	a := e.analyzer.Assess(t.Bid, t.Ask, inst.TickSize)
	if !a.Reasonable {
		e.log.Info("spread too wide, direct limit order",
			zap.String("instrument", inst.Name),
			zap.Float64("ratio", a.SpreadRatio),
			zap.Float64("ticks", a.TickMultiple),
			zap.Float64("price", price),
			zap.Float64("qty", qty))
		return e.direct(ctx, b, order)
	}

	placed, err := b.PlaceLimitOrder(ctx, order)
	if err != nil {
		return models.Execution{}, models.WrapKind(models.ExecutionFailure, err, "place initial order")
	}
	metrics.Orders.WithLabelValues(string(models.StrategyProgressive), string(order.Direction)).Inc()

	s := &session{
		OrderID:      placed.ID,
		Instrument:   inst,
		Direction:    req.Direction,
		Quantity:     qty,
		InitialPrice: price,
		MaxSteps:     e.cfg.MaxSteps,
		StepTimeout:  e.cfg.StepTimeout,
		last:         placed,
	}
	return e.walk(ctx, b, s)
}

func (e *Executor) direct(ctx context.Context, b broker.Broker, order models.OrderRequest) (models.Execution, error) {
	placed, err := b.PlaceLimitOrder(ctx, order)
	if err != nil {
		return models.Execution{}, models.WrapKind(models.ExecutionFailure, err, "place direct order")
	}
	metrics.Orders.WithLabelValues(string(models.StrategyDirect), string(order.Direction)).Inc()

	ex := models.Execution{
		Strategy:         models.StrategyDirect,
		OrderID:          placed.ID,
		Instrument:       order.Instrument,
		Direction:        order.Direction,
		Quantity:         order.Amount,
		Price:            placed.Price,
		FinalState:       placed.State,
		ExecutedQuantity: placed.FilledAmount,
		AveragePrice:     placed.AveragePrice,
		Attempts:         1,
	}
	// прямой ордер успешен, если биржа его приняла
	ex.Success = placed.State != models.OrderRejected && placed.State != models.OrderCancelled
	return ex, nil
}

// quantity: fixed — контракты, cash — сумма / стоимость контракта.
// Результат режется до шага лота и поднимается до минимума биржи.
func (e *Executor) quantity(req Request, t models.Ticker, entry float64) (float64, error) {
	inst := req.Instrument
	qty := req.Quantity

	if req.QtyType == models.QtyCash {
		size := inst.ContractSize
		if size <= 0 {
			size = 1
		}
		value := entry * size
		if inst.QuoteInBase {
			underlying := t.UnderlyingPrice
			if underlying <= 0 {
				underlying = req.IndexPrice
			}
			if underlying <= 0 {
				return 0, models.Errorf(models.ValidationFailure, "no underlying price to size %s", inst.Name)
			}
			value *= underlying
		}
		if value <= 0 {
			return 0, models.Errorf(models.ValidationFailure, "contract value is zero for %s", inst.Name)
		}
		qty = req.Quantity / value
	}

	if inst.MinTradeAmount > 0 {
		qty = helper.FloorToStep(qty, inst.MinTradeAmount)
		qty = math.Max(qty, inst.MinTradeAmount)
	}
	if req.MaxQuantity > 0 && qty > req.MaxQuantity {
		qty = req.MaxQuantity
	}
	if qty <= 0 {
		return 0, models.Errorf(models.ValidationFailure, "quantity rounds to zero for %s", inst.Name)
	}
	return qty, nil
}
