package runner

import (
	"context"
	"math"

	"option_bot/internal/models"
	"option_bot/pkg/clock"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PassReport — что сделал один проход.
type PassReport struct {
	Accounts  int
	Positions int
	Rolls     int
	Closes    int
	Promoted  int
	Orphans   int
}

// PositionPass сверяет живые позиции с записями: дрейф дельты даёт roll,
// доходность проданного опциона выше порога — полное закрытие.
// Ошибка возвращается только для провала всего прохода (хранилище).
func (m *Monitor) PositionPass(ctx context.Context) error {
	_, err := m.positionPass(ctx)
	return err
}

func (m *Monitor) positionPass(ctx context.Context) (PassReport, error) {
	var rep PassReport
	for _, acc := range m.sessions.Enabled() {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if err := m.positionsForAccount(ctx, acc.Name, &rep); err != nil {
			return rep, err
		}
		rep.Accounts++
	}
	m.log.Debug("position pass done",
		zap.Int("accounts", rep.Accounts), zap.Int("positions", rep.Positions),
		zap.Int("rolls", rep.Rolls), zap.Int("closes", rep.Closes))
	return rep, nil
}

func (m *Monitor) positionsForAccount(ctx context.Context, name string, rep *PassReport) error {
	log := m.log.With(zap.String("account", name))

	sess, err := m.sessions.Get(name)
	if err != nil {
		log.Warn("session unavailable, skip account", zap.Error(err))
		return nil
	}
	sess.Lock()
	defer sess.Unlock()
	acc, b := sess.Account, sess.Broker

	positions, err := b.Positions(ctx, acc.Currency)
	if err != nil {
		log.Warn("positions unavailable, skip account", zap.Error(err))
		return nil
	}

	rolled := make(map[string]struct{})
	first := true
	for _, pos := range positions {
		if pos.Kind != models.KindOption || pos.Size == 0 {
			continue
		}
		if _, done := rolled[pos.InstrumentName]; done {
			continue
		}
		if !first {
			if err := clock.Sleep(ctx, m.clock, m.cfg.InterPositionDelay); err != nil {
				return err
			}
		}
		first = false
		rep.Positions++

		// дельта из снимка позиции взвешена размером и с target_delta
		// на контракт не сравнима: без живых греков дрейф не проверяем
		liveGreeks := true
		if g, err := b.Greeks(ctx, pos.InstrumentName); err == nil {
			pos.Delta, pos.Gamma, pos.Theta, pos.Vega = g.Delta, g.Gamma, g.Theta, g.Vega
		} else {
			liveGreeks = false
			log.Warn("live greeks unavailable, drift check skipped", zap.String("instrument", pos.InstrumentName), zap.Error(err))
		}

		recs, err := m.store.Find(ctx, models.DeltaFilter{
			AccountID: acc.Name, InstrumentName: pos.InstrumentName, RecordType: models.RecordPosition,
		})
		if err != nil {
			return errors.Wrap(err, "find delta records")
		}
		if len(recs) == 0 {
			continue
		}
		rec := recs[0]
		plog := log.With(zap.String("instrument", pos.InstrumentName))

		if pos.IsShort() {
			if roi := pos.ShortROI(); roi > m.cfg.ROIThreshold {
				plog.Info("short option ROI above threshold, closing", zap.Float64("roi", roi))
				action := models.ActionCloseShort
				if rec.Action.IsLong() {
					action = models.ActionCloseLong
				}
				if _, err := m.lifecycle.CloseRecord(ctx, acc, b, rec, action); err != nil {
					plog.Warn("roi close failed", zap.Error(err))
				} else {
					rep.Closes++
				}
				continue
			}
		}

		if liveGreeks && math.Abs(pos.Delta) > math.Abs(rec.TargetDelta) {
			plog.Info("delta drift, rolling",
				zap.Float64("delta", pos.Delta), zap.Float64("target", rec.TargetDelta),
				zap.Float64("move_to", rec.MovePositionDelta))
			rolled[pos.InstrumentName] = struct{}{}
			res, err := m.lifecycle.Roll(ctx, acc, b, rec, pos)
			if err != nil {
				plog.Warn("roll failed", zap.String("state", string(res.State)), zap.Error(err))
				continue
			}
			rep.Rolls++
		}
	}
	return nil
}
