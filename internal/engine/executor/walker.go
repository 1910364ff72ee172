package executor

import (
	"context"
	"math"
	"time"

	"option_bot/internal/broker"
	"option_bot/internal/helper"
	"option_bot/internal/metrics"
	"option_bot/internal/models"
	"option_bot/pkg/clock"

	"go.uber.org/zap"
)

// session живёт одно исполнение, на диск не пишется.
type session struct {
	OrderID      string
	Instrument   models.Instrument
	Direction    models.Direction
	Quantity     float64
	InitialPrice float64
	Step         int
	MaxSteps     int
	StepTimeout  time.Duration

	last     models.Order
	attempts int
}

// walk: OPEN → REPRICE(1..max) → FINALIZE. Цена идёт от середины к лучшей
// встречной котировке равными долями и никогда её не пересекает.
func (e *Executor) walk(ctx context.Context, b broker.Broker, s *session) (models.Execution, error) {
	log := e.log.With(zap.String("order_id", s.OrderID), zap.String("instrument", s.Instrument.Name))

	resolved := s.last.State != models.OrderOpen
	stopped := false

	for s.Step = 1; s.Step <= s.MaxSteps && !resolved; s.Step++ {
		if err := clock.Sleep(ctx, e.clock, s.StepTimeout); err != nil {
			return e.finish(context.WithoutCancel(ctx), b, s), err
		}

		o, err := b.OrderState(ctx, s.OrderID)
		if err != nil {
			log.Warn("order state unavailable, skip step", zap.Int("step", s.Step), zap.Error(err))
			continue
		}
		s.last = o
		if o.State != models.OrderOpen {
			resolved = true
			break
		}

		t, err := b.Ticker(ctx, s.Instrument.Name)
		if err != nil || !t.Valid() {
			log.Warn("invalid quote, skip step", zap.Int("step", s.Step), zap.Error(err))
			continue
		}

		target := s.target(t)
		amended, err := b.AmendOrder(ctx, s.OrderID, o.Remaining(), target)
		s.attempts++
		if err != nil {
			// ордер остаётся по последней цене, финальной перестановки нет
			log.Warn("amend failed, stop walking", zap.Int("step", s.Step), zap.Error(err))
			stopped = true
			break
		}
		metrics.Reprices.WithLabelValues("step").Inc()
		log.Debug("repriced", zap.Int("step", s.Step), zap.Float64("price", target))
		s.last = amended
		if amended.State != models.OrderOpen {
			resolved = true
		}
	}

	if !resolved && !stopped {
		e.finalReprice(ctx, b, s, log)
	}
	return e.finish(ctx, b, s), nil
}

func (s *session) favorable(t models.Ticker) float64 {
	if s.Direction == models.Buy {
		return t.Ask
	}
	return t.Bid
}

func (s *session) target(t models.Ticker) float64 {
	fav := s.favorable(t)
	px := s.InitialPrice + (fav-s.InitialPrice)*float64(s.Step)/float64(s.MaxSteps)
	px = s.clamp(px, fav)
	px = helper.RoundToTick(px, s.Instrument.TickSize)
	return s.clamp(px, fav)
}

func (s *session) clamp(px, fav float64) float64 {
	if s.Direction == models.Buy {
		return math.Min(px, fav)
	}
	return math.Max(px, fav)
}

func (e *Executor) finalReprice(ctx context.Context, b broker.Broker, s *session, log *zap.Logger) {
	o, err := b.OrderState(ctx, s.OrderID)
	if err == nil {
		s.last = o
		if o.State != models.OrderOpen {
			return
		}
	}

	t, err := b.Ticker(ctx, s.Instrument.Name)
	if err != nil || !t.Valid() {
		log.Warn("no quote for final reprice", zap.Error(err))
		return
	}
	price := s.favorable(t)
	amended, err := b.AmendOrder(ctx, s.OrderID, s.last.Remaining(), price)
	s.attempts++
	if err != nil {
		log.Warn("final reprice failed", zap.Error(err))
		return
	}
	metrics.Reprices.WithLabelValues("final").Inc()
	s.last = amended
}

func (e *Executor) finish(ctx context.Context, b broker.Broker, s *session) models.Execution {
	if o, err := b.OrderState(ctx, s.OrderID); err == nil {
		s.last = o
	}

	ex := models.Execution{
		Strategy:         models.StrategyProgressive,
		OrderID:          s.OrderID,
		Instrument:       s.Instrument.Name,
		Direction:        s.Direction,
		Quantity:         s.Quantity,
		Price:            s.last.Price,
		FinalState:       s.last.State,
		ExecutedQuantity: s.last.FilledAmount,
		AveragePrice:     s.last.AveragePrice,
		Attempts:         s.attempts,
	}
	ex.Success = ex.ExecutedQuantity > 0 ||
		ex.FinalState == models.OrderFilled || ex.FinalState == models.OrderClosed

	if open, err := b.OpenOrders(ctx, s.Instrument.BaseCurrency); err == nil {
		ex.OpenOrders = len(open)
	}
	if positions, err := b.Positions(ctx, s.Instrument.BaseCurrency); err == nil {
		for _, p := range positions {
			if p.InstrumentName == s.Instrument.Name {
				ex.PositionSize = p.Size
			}
		}
	}

	e.log.Info("progressive order finished",
		zap.String("order_id", ex.OrderID),
		zap.String("state", string(ex.FinalState)),
		zap.Float64("filled", ex.ExecutedQuantity),
		zap.Int("attempts", ex.Attempts),
		zap.Bool("success", ex.Success))
	return ex
}
