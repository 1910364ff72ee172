package lifecycle

import (
	"context"
	"math"

	"option_bot/internal/broker"
	"option_bot/internal/engine/executor"
	"option_bot/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const qtyEps = 1e-9

// ratioFunc считает долю закрытия по живой позиции.
type ratioFunc func(pos models.Position) (float64, error)

func fixedRatio(r float64) ratioFunc {
	return func(models.Position) (float64, error) { return r, nil }
}

// Reduce закрывает часть позиции: close_ratio из сигнала, иначе size / |позиция|.
func (m *Manager) Reduce(ctx context.Context, acc models.Account, b broker.Broker, sig models.Signal, action models.Action) (Outcome, error) {
	if !action.IsReduce() {
		return Outcome{}, models.Errorf(models.ValidationFailure, "%s is not a reduce action", action)
	}
	ratio := func(pos models.Position) (float64, error) {
		if sig.CloseRatio > 0 {
			return sig.CloseRatio, nil
		}
		if sig.Size > 0 && pos.AbsSize() > 0 {
			return sig.Size / pos.AbsSize(), nil
		}
		return 0, models.Errorf(models.ValidationFailure, "reduce needs close_ratio or size")
	}
	return m.exitByTvID(ctx, acc, b, sig.TvID, action, ratio)
}

// Close — полное закрытие, если close_ratio не задан.
func (m *Manager) Close(ctx context.Context, acc models.Account, b broker.Broker, sig models.Signal, action models.Action) (Outcome, error) {
	if !action.IsClose() {
		return Outcome{}, models.Errorf(models.ValidationFailure, "%s is not a close action", action)
	}
	r := 1.0
	if sig.CloseRatio > 0 {
		r = sig.CloseRatio
	}
	return m.exitByTvID(ctx, acc, b, sig.TvID, action, fixedRatio(r))
}

// Stop режет позицию на StopRatio (по умолчанию половина).
func (m *Manager) Stop(ctx context.Context, acc models.Account, b broker.Broker, sig models.Signal, action models.Action) (Outcome, error) {
	if !action.IsStop() {
		return Outcome{}, models.Errorf(models.ValidationFailure, "%s is not a stop action", action)
	}
	return m.exitByTvID(ctx, acc, b, sig.TvID, action, fixedRatio(m.cfg.StopRatio))
}

// CloseRecord полностью закрывает позицию записи; вызывается опросом.
func (m *Manager) CloseRecord(ctx context.Context, acc models.Account, b broker.Broker, rec models.DeltaRecord, action models.Action) (Outcome, error) {
	return m.exit(ctx, acc, b, rec, action, fixedRatio(1))
}

func (m *Manager) exitByTvID(ctx context.Context, acc models.Account, b broker.Broker, tvID string, action models.Action, ratio ratioFunc) (Outcome, error) {
	if tvID == "" {
		return Outcome{}, models.Errorf(models.ValidationFailure, "%s requires tv_id", action)
	}
	records, err := m.store.Find(ctx, models.DeltaFilter{AccountID: acc.Name, TvID: tvID})
	if err != nil {
		return Outcome{}, errors.Wrap(err, "find delta records")
	}
	if len(records) == 0 {
		return Outcome{}, models.Errorf(models.ValidationFailure, "no delta records for tv_id %s", tvID)
	}

	var (
		last     Outcome
		firstErr error
		done     int
	)
	for _, rec := range records {
		out, err := m.exit(ctx, acc, b, rec, action, ratio)
		if err != nil {
			m.log.Warn("exit failed", zap.String("instrument", rec.InstrumentName), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		last = out
		done++
	}
	if firstErr != nil && done > 0 {
		return last, models.WrapKind(models.PartialFailure, firstErr, "some records of tv_id not processed")
	}
	return last, firstErr
}

func (m *Manager) exit(ctx context.Context, acc models.Account, b broker.Broker, rec models.DeltaRecord, action models.Action, ratioFor ratioFunc) (Outcome, error) {
	out := Outcome{Action: action, Instrument: rec.InstrumentName}

	pos, ok, err := livePosition(ctx, b, acc.Currency, rec.InstrumentName)
	if err != nil {
		return out, models.WrapKind(models.ExecutionFailure, err, "fetch positions")
	}
	if !ok {
		if action.IsClose() {
			// позиции уже нет: убираем запись, больше за ней следить не нужно
			if err := m.store.Delete(ctx, rec.ID); err != nil {
				return out, errors.Wrap(err, "delete stale record")
			}
			out.Closed = true
			m.log.Info("no live position, record removed", zap.String("instrument", rec.InstrumentName))
			return out, nil
		}
		return out, models.Errorf(models.ValidationFailure, "no live position on %s", rec.InstrumentName)
	}

	ratio, err := ratioFor(pos)
	if err != nil {
		return out, err
	}
	if ratio <= 0 || math.IsNaN(ratio) {
		return out, models.Errorf(models.ValidationFailure, "close ratio must be positive, got %v", ratio)
	}
	qty := pos.AbsSize() * math.Min(ratio, 1)

	inst, err := m.selector.Instrument(ctx, b, acc.Name, acc.Currency, rec.InstrumentName)
	if err != nil {
		return out, err
	}
	t, err := b.Ticker(ctx, inst.Name)
	if err != nil {
		return out, models.WrapKind(models.ExecutionFailure, err, "fetch quote "+inst.Name)
	}
	if a := m.executor.Analyzer().Assess(t.Bid, t.Ask, inst.TickSize); !a.Reasonable {
		return out, models.Errorf(models.ExecutionFailure,
			"spread too wide to exit %s: bid=%v ask=%v ratio=%.2f%%", inst.Name, t.Bid, t.Ask, a.SpreadRatio*100)
	}

	dir := models.Sell
	if pos.IsShort() {
		dir = models.Buy
	}
	ex, err := m.executor.Execute(ctx, b, executor.Request{
		Instrument:  inst,
		Direction:   dir,
		Quantity:    qty,
		QtyType:     models.QtyFixed,
		MaxQuantity: pos.AbsSize(),
		ReduceOnly:  true,
	})
	if err != nil {
		return out, err
	}
	out.Execution = ex
	if !ex.Success {
		return out, models.Errorf(models.ExecutionFailure, "exit order %s on %s ended %s", ex.OrderID, inst.Name, ex.FinalState)
	}

	// минимальный лот может дотянуть частичный выход до полного
	full := ratio >= 1 || ex.Quantity >= pos.AbsSize()-qtyEps
	if full {
		if err := m.store.Delete(ctx, rec.ID); err != nil {
			return out, models.WrapKind(models.PartialFailure, err, "position closed but record not deleted")
		}
		out.Closed = true
	} else {
		rec.Action = action
		if err := m.store.Update(ctx, rec); err != nil {
			return out, models.WrapKind(models.PartialFailure, err, "position reduced but record not updated")
		}
		out.Record = &rec
	}

	m.log.Info("position exit",
		zap.String("account", acc.Name),
		zap.String("action", string(action)),
		zap.String("instrument", inst.Name),
		zap.Float64("ratio", ratio),
		zap.Float64("qty", ex.Quantity),
		zap.Bool("closed", out.Closed))
	m.notify(ctx, "🔻 [%s] %s %s %.4g из %.4g @ %.4f",
		acc.Name, action, inst.Name, ex.Quantity, pos.AbsSize(), orderPrice(ex))
	return out, nil
}
