package runner

import (
	"context"

	"option_bot/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// OrderPass сверяет order-записи с открытыми ордерами биржи. Исполненные
// ордера с живой позицией переводятся в position-записи, сироты только
// логируются и не удаляются.
func (m *Monitor) OrderPass(ctx context.Context) error {
	_, err := m.orderPass(ctx)
	return err
}

func (m *Monitor) orderPass(ctx context.Context) (PassReport, error) {
	var rep PassReport
	for _, acc := range m.sessions.Enabled() {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if err := m.ordersForAccount(ctx, acc.Name, &rep); err != nil {
			return rep, err
		}
		rep.Accounts++
	}
	return rep, nil
}

func (m *Monitor) ordersForAccount(ctx context.Context, name string, rep *PassReport) error {
	log := m.log.With(zap.String("account", name))

	sess, err := m.sessions.Get(name)
	if err != nil {
		log.Warn("session unavailable, skip account", zap.Error(err))
		return nil
	}
	sess.Lock()
	defer sess.Unlock()
	acc, b := sess.Account, sess.Broker

	recs, err := m.store.Find(ctx, models.DeltaFilter{AccountID: acc.Name, RecordType: models.RecordOrder})
	if err != nil {
		return errors.Wrap(err, "find order records")
	}

	open, err := b.OpenOrders(ctx, acc.Currency)
	if err != nil {
		log.Warn("open orders unavailable, skip account", zap.Error(err))
		return nil
	}
	positions, err := b.Positions(ctx, acc.Currency)
	if err != nil {
		log.Warn("positions unavailable, skip account", zap.Error(err))
		return nil
	}

	live := make(map[string]models.Order, len(open))
	for _, o := range open {
		live[o.ID] = o
	}
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		if p.Size != 0 {
			held[p.InstrumentName] = true
		}
	}

	tracked := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if rec.OrderID == nil {
			continue
		}
		tracked[*rec.OrderID] = true
		if _, resting := live[*rec.OrderID]; resting {
			continue
		}
		if !held[rec.InstrumentName] {
			rep.Orphans++
			log.Warn("order record without live order or position",
				zap.Int64("record_id", rec.ID), zap.String("order_id", *rec.OrderID), zap.String("instrument", rec.InstrumentName))
			continue
		}

		owner, err := m.promote(ctx, rec)
		if err != nil {
			return err
		}
		if owner != nil {
			rep.Orphans++
			log.Warn("order filled into a position tracked by another record, order record kept",
				zap.Int64("record_id", rec.ID), zap.String("order_id", *rec.OrderID),
				zap.String("instrument", rec.InstrumentName), zap.Int64("position_record_id", owner.ID))
			continue
		}
		rep.Promoted++
		log.Info("order filled, record promoted to position",
			zap.String("order_id", *rec.OrderID), zap.String("instrument", rec.InstrumentName))
	}

	for id, o := range live {
		if !tracked[id] {
			log.Info("live order without record", zap.String("order_id", id), zap.String("instrument", o.Instrument))
		}
	}
	return nil
}

// promote превращает order-запись в position. Если position-запись на
// инструмент уже есть, ничего не меняет и возвращает её: у order-записи
// свой tv_id, удалять её нельзя.
func (m *Monitor) promote(ctx context.Context, rec models.DeltaRecord) (*models.DeltaRecord, error) {
	existing, err := m.store.Find(ctx, models.DeltaFilter{
		AccountID: rec.AccountID, InstrumentName: rec.InstrumentName, RecordType: models.RecordPosition,
	})
	if err != nil {
		return nil, errors.Wrap(err, "find position record")
	}
	if len(existing) > 0 {
		return &existing[0], nil
	}
	rec.RecordType = models.RecordPosition
	return nil, errors.Wrap(m.store.Update(ctx, rec), "promote order record")
}
