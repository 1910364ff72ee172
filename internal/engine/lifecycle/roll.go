package lifecycle

import (
	"context"
	"math"

	"option_bot/internal/broker"
	"option_bot/internal/engine/executor"
	"option_bot/internal/engine/selector"
	"option_bot/internal/metrics"
	"option_bot/internal/models"

	"go.uber.org/zap"
)

// RollState — шаги саги переката.
type RollState string

const (
	RollClosingOld    RollState = "CLOSING_OLD"
	RollOpeningNew    RollState = "OPENING_NEW"
	RollDone          RollState = "DONE"
	RollFailedClean   RollState = "FAILED_CLEAN"   // ничего не поменялось
	RollClosePending  RollState = "CLOSE_PENDING"  // закрывающий ордер висит без исполнения
	RollFailedPartial RollState = "FAILED_PARTIAL" // старая нога закрыта, новая не открылась
)

type RollResult struct {
	State         RollState
	OldInstrument string
	NewInstrument string
	Close         *models.Execution
	Open          *models.Execution
}

// Roll переводит позицию записи на контракт с дельтой move_position_delta.
// Замена подбирается до закрытия старой ноги, так что отказы селектора и
// широкий спред заканчиваются FAILED_CLEAN. Пока на старом контракте висит
// ордер, перекат не начинается. FAILED_PARTIAL не откатывается.
func (m *Manager) Roll(ctx context.Context, acc models.Account, b broker.Broker, rec models.DeltaRecord, pos models.Position) (res RollResult, err error) {
	res = RollResult{State: RollClosingOld, OldInstrument: rec.InstrumentName}
	log := m.log.With(zap.String("account", acc.Name), zap.String("instrument", rec.InstrumentName))
	defer func() {
		metrics.Rolls.WithLabelValues(string(res.State)).Inc()
		if err != nil {
			log.Warn("roll failed", zap.String("state", string(res.State)), zap.Error(err))
		}
	}()

	failClean := func(e error) (RollResult, error) {
		res.State = RollFailedClean
		if models.IsKind(e, models.SelectionFailure) {
			// цепочка могла устареть: следующий проход перечитает её
			m.selector.Invalidate()
		}
		return res, e
	}

	if rec.MovePositionDelta == 0 {
		return failClean(models.Errorf(models.ValidationFailure, "record %d has no move_position_delta", rec.ID))
	}
	pending, err := restingOrders(ctx, b, acc.Currency, rec.InstrumentName)
	if err != nil {
		return failClean(models.WrapKind(models.ExecutionFailure, err, "fetch open orders"))
	}
	if pending > 0 {
		return failClean(models.Errorf(models.ValidationFailure, "%d open order(s) on %s, roll postponed", pending, rec.InstrumentName))
	}
	old, err := m.selector.Instrument(ctx, b, acc.Name, acc.Currency, rec.InstrumentName)
	if err != nil {
		return failClean(err)
	}

	days := m.cfg.DefaultDTE
	if rec.MinExpireDays != nil && *rec.MinExpireDays > 0 {
		days = *rec.MinExpireDays
	}
	sel, err := m.selector.Select(ctx, b, m.cfg.RollMode, selector.Query{
		CacheKey:      acc.Name,
		Currency:      acc.Currency,
		OptionType:    old.OptionType,
		TargetDelta:   signedDelta(rec.MovePositionDelta, old.OptionType),
		MinExpireDays: days,
	})
	if err != nil {
		return failClean(err)
	}
	res.NewInstrument = sel.Candidate.InstrumentName
	if sel.Candidate.InstrumentName == old.Name {
		return failClean(models.Errorf(models.SelectionFailure, "replacement equals current instrument %s", old.Name))
	}

	an := m.executor.Analyzer()
	if !an.IsReasonable(sel.Ticker.Bid, sel.Ticker.Ask, sel.Candidate.Instrument.TickSize) {
		return failClean(models.Errorf(models.ExecutionFailure, "replacement %s spread too wide (%.2f%%)",
			sel.Candidate.InstrumentName, sel.SpreadRatio*100))
	}
	t, err := b.Ticker(ctx, old.Name)
	if err != nil {
		return failClean(models.WrapKind(models.ExecutionFailure, err, "fetch quote "+old.Name))
	}
	if !an.IsReasonable(t.Bid, t.Ask, old.TickSize) {
		return failClean(models.Errorf(models.ExecutionFailure, "current %s spread too wide to close", old.Name))
	}

	// CLOSING_OLD
	size := pos.AbsSize()
	openDir := models.Buy
	if pos.IsShort() {
		openDir = models.Sell
	}
	closeEx, err := m.executor.Execute(ctx, b, executor.Request{
		Instrument:  old,
		Direction:   openDir.Opposite(),
		Quantity:    size,
		QtyType:     models.QtyFixed,
		MaxQuantity: size,
		ReduceOnly:  true,
	})
	if err != nil {
		return failClean(err)
	}
	res.Close = &closeEx
	if !closeEx.Success || closeEx.ExecutedQuantity <= 0 {
		e := models.Errorf(models.ExecutionFailure, "close leg %s not filled (%s)", old.Name, closeEx.FinalState)
		if closeEx.FinalState != models.OrderOpen {
			return failClean(e)
		}
		// ордер остаётся в стакане; пока он висит, новые перекаты не запускаются
		res.State = RollClosePending
		m.notify(ctx, "⏳ [%s] Перекат %s: закрывающий ордер %s не исполнен и висит @ %.4f, новая нога не открыта",
			acc.Name, old.Name, closeEx.OrderID, closeEx.Price)
		return res, e
	}

	// OPENING_NEW
	res.State = RollOpeningNew
	qty := math.Min(closeEx.ExecutedQuantity, size)
	openEx, err := m.executor.Execute(ctx, b, executor.Request{
		Instrument: sel.Candidate.Instrument,
		Direction:  openDir,
		Quantity:   qty,
		QtyType:    models.QtyFixed,
	})
	if err == nil && !openEx.Success {
		err = models.Errorf(models.ExecutionFailure, "open leg %s ended %s", sel.Candidate.InstrumentName, openEx.FinalState)
	}
	if err != nil {
		res.State = RollFailedPartial
		if openEx.OrderID != "" {
			res.Open = &openEx
		}
		// старая позиция закрыта, следить по записи больше нечего
		if derr := m.store.Delete(ctx, rec.ID); derr != nil {
			log.Error("delete record after partial roll", zap.Error(derr))
		}
		m.notify(ctx, "🚨 [%s] Перекат %s → %s: старая нога закрыта (%.4g), новая НЕ открыта: %v. tv_id=%s",
			acc.Name, old.Name, sel.Candidate.InstrumentName, closeEx.ExecutedQuantity, err, strOrDash(rec.TvID))
		return res, models.WrapKind(models.PartialFailure, err, "roll left flat after closing old leg")
	}
	res.Open = &openEx

	rec.InstrumentName = sel.Candidate.InstrumentName
	rec.OrderID = models.StrPtr(openEx.OrderID)
	rec.RecordType = models.RecordOrder
	if openEx.FinalState == models.OrderFilled || openEx.FinalState == models.OrderClosed {
		rec.RecordType = models.RecordPosition
	}
	res.State = RollDone
	if uerr := m.store.Update(ctx, rec); uerr != nil {
		m.notify(ctx, "⚠️ [%s] Перекат на %s выполнен, но запись не обновлена: %v", acc.Name, rec.InstrumentName, uerr)
		return res, models.WrapKind(models.PartialFailure, uerr, "roll done but record not updated")
	}

	log.Info("roll done",
		zap.String("new_instrument", rec.InstrumentName),
		zap.Float64("delta", sel.Candidate.Delta),
		zap.Float64("qty", qty))
	m.notify(ctx, "🔄 [%s] Перекат %s → %s (delta %.3f → %.3f), qty=%.4g",
		acc.Name, old.Name, rec.InstrumentName, pos.Delta, sel.Candidate.Delta, qty)
	return res, nil
}

// restingOrders — число открытых ордеров на инструменте.
func restingOrders(ctx context.Context, b broker.Broker, currency, instrument string) (int, error) {
	open, err := b.OpenOrders(ctx, currency)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range open {
		if o.Instrument == instrument {
			n++
		}
	}
	return n, nil
}

func strOrDash(p *string) string {
	if p == nil {
		return "-"
	}
	return *p
}
