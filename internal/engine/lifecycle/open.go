package lifecycle

import (
	"context"
	"math"

	"option_bot/internal/broker"
	"option_bot/internal/engine/executor"
	"option_bot/internal/engine/selector"
	"option_bot/internal/models"
	deltastore "option_bot/internal/modules/deltastore/service"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Open подбирает контракт под delta1/n, исполняет ордер и сохраняет
// намерение сигнала в DeltaRecord.
func (m *Manager) Open(ctx context.Context, acc models.Account, b broker.Broker, sig models.Signal, action models.Action) (Outcome, error) {
	if !action.IsOpen() {
		return Outcome{}, models.Errorf(models.ValidationFailure, "%s is not an open action", action)
	}
	if sig.Delta1 == 0 || math.Abs(sig.Delta1) > 1 {
		return Outcome{}, models.Errorf(models.ValidationFailure, "delta1 must be in (0,1], got %v", sig.Delta1)
	}
	if sig.N <= 0 {
		return Outcome{}, models.Errorf(models.ValidationFailure, "n (min expire days) must be positive, got %d", sig.N)
	}
	if sig.Size <= 0 {
		return Outcome{}, models.Errorf(models.ValidationFailure, "size must be positive, got %v", sig.Size)
	}

	optType, dir := optionPlan(action, acc.OptionSide)
	q := selector.Query{
		CacheKey:      acc.Name,
		Currency:      acc.Currency,
		OptionType:    optType,
		TargetDelta:   signedDelta(sig.Delta1, optType),
		MinExpireDays: sig.N,
	}
	sel, err := m.selector.Select(ctx, b, m.cfg.OpenMode, q)
	if err != nil {
		return Outcome{}, err
	}

	req := executor.Request{
		Instrument: sel.Candidate.Instrument,
		Direction:  dir,
		Quantity:   sig.Size,
		QtyType:    sig.QtyType,
	}
	if sig.QtyType == models.QtyCash && sel.Ticker.UnderlyingPrice <= 0 {
		if px, err := m.selector.IndexPrice(ctx, b, acc.Name, acc.Currency); err == nil {
			req.IndexPrice = px
		}
	}
	ex, err := m.executor.Execute(ctx, b, req)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Action: action, Instrument: sel.Candidate.InstrumentName, Execution: ex}
	if !ex.Success {
		failure := models.Errorf(models.ExecutionFailure, "order %s on %s ended %s without fill",
			ex.OrderID, ex.Instrument, ex.FinalState)
		if ex.OrderID == "" || ex.FinalState != models.OrderOpen {
			return out, failure
		}
		// ордер остался в стакане: запись нужна, чтобы опрос ордеров
		// подхватил исполнение, а close/stop нашли позицию по tv_id
		rec, err := m.persistOpen(ctx, acc, sig, action, ex)
		if err != nil {
			m.log.Error("resting order not tracked", zap.String("order_id", ex.OrderID), zap.Error(err))
			return out, failure
		}
		out.Record = &rec
		m.notify(ctx, "⏳ [%s] %s %s: ордер %s висит без исполнения @ %.4f",
			acc.Name, action, ex.Instrument, ex.OrderID, ex.Price)
		return out, failure
	}

	rec, err := m.persistOpen(ctx, acc, sig, action, ex)
	if err != nil {
		m.notify(ctx, "⚠️ [%s] %s исполнен, но запись не сохранена: %v", acc.Name, ex.Instrument, err)
		return out, models.WrapKind(models.PartialFailure, err, "order placed but delta record not saved")
	}
	out.Record = &rec

	m.log.Info("position opened",
		zap.String("account", acc.Name),
		zap.String("action", string(action)),
		zap.String("instrument", ex.Instrument),
		zap.String("strategy", string(ex.Strategy)),
		zap.Float64("delta", sel.Candidate.Delta),
		zap.Float64("filled", ex.ExecutedQuantity))
	m.notify(ctx, "✅ [%s] %s %s %.4g @ %.4f (delta=%.3f, %s)",
		acc.Name, action, ex.Instrument, ex.Quantity, orderPrice(ex), sel.Candidate.Delta, ex.Strategy)
	return out, nil
}

func (m *Manager) persistOpen(ctx context.Context, acc models.Account, sig models.Signal, action models.Action, ex models.Execution) (models.DeltaRecord, error) {
	rec := models.DeltaRecord{
		AccountID:         acc.Name,
		InstrumentName:    ex.Instrument,
		OrderID:           models.StrPtr(ex.OrderID),
		TargetDelta:       math.Abs(sig.Delta1),
		MovePositionDelta: math.Abs(sig.Delta2),
		MinExpireDays:     models.IntPtr(sig.N),
		TvID:              models.StrPtr(sig.TvID),
		Action:            action,
		RecordType:        models.RecordOrder,
	}
	if ex.FinalState == models.OrderFilled || ex.FinalState == models.OrderClosed {
		rec.RecordType = models.RecordPosition
	}

	created, err := m.store.Create(ctx, rec)
	if err == nil || !errors.Is(err, deltastore.ErrDuplicate) || rec.RecordType != models.RecordPosition {
		return created, err
	}

	// докупили тот же контракт: обновляем существующую запись
	existing, ferr := m.store.Find(ctx, models.DeltaFilter{
		AccountID: acc.Name, InstrumentName: ex.Instrument, RecordType: models.RecordPosition,
	})
	if ferr != nil || len(existing) == 0 {
		return models.DeltaRecord{}, err
	}
	upd := existing[0]
	upd.OrderID = rec.OrderID
	upd.TargetDelta = rec.TargetDelta
	upd.MovePositionDelta = rec.MovePositionDelta
	upd.MinExpireDays = rec.MinExpireDays
	upd.TvID = rec.TvID
	upd.Action = action
	if uerr := m.store.Update(ctx, upd); uerr != nil {
		return models.DeltaRecord{}, uerr
	}
	return upd, nil
}

func orderPrice(ex models.Execution) float64 {
	if ex.AveragePrice > 0 {
		return ex.AveragePrice
	}
	return ex.Price
}
