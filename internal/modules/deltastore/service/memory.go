package service

import (
	"context"
	"sort"
	"sync"

	"option_bot/internal/models"
	"option_bot/pkg/clock"

	"github.com/pkg/errors"
)

// Memory — хранилище в памяти: для сухого прогона и тестов.
type Memory struct {
	mu    sync.RWMutex
	clock clock.Clock
	seq   int64
	data  map[int64]models.DeltaRecord
}

var _ Store = (*Memory)(nil)

func NewMemory(c clock.Clock) *Memory {
	return &Memory{clock: c, data: make(map[int64]models.DeltaRecord)}
}

func (m *Memory) Create(_ context.Context, rec models.DeltaRecord) (models.DeltaRecord, error) {
	if err := Validate(rec); err != nil {
		return models.DeltaRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUnique(rec); err != nil {
		return models.DeltaRecord{}, err
	}
	m.seq++
	now := m.clock.Now()
	rec.ID = m.seq
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.data[rec.ID] = rec
	return rec, nil
}

func (m *Memory) Update(_ context.Context, rec models.DeltaRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.data[rec.ID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "id=%d", rec.ID)
	}
	if err := m.checkUnique(rec); err != nil {
		return err
	}
	rec.CreatedAt = old.CreatedAt
	rec.UpdatedAt = m.clock.Now()
	m.data[rec.ID] = rec
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return errors.Wrapf(ErrNotFound, "id=%d", id)
	}
	delete(m.data, id)
	return nil
}

func (m *Memory) Get(_ context.Context, id int64) (models.DeltaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[id]
	if !ok {
		return models.DeltaRecord{}, errors.Wrapf(ErrNotFound, "id=%d", id)
	}
	return rec, nil
}

func (m *Memory) Find(_ context.Context, f models.DeltaFilter) ([]models.DeltaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DeltaRecord, 0)
	for _, rec := range m.data {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// checkUnique вызывается под m.mu.
func (m *Memory) checkUnique(rec models.DeltaRecord) error {
	for id, other := range m.data {
		if id == rec.ID {
			continue
		}
		if rec.RecordType == models.RecordPosition && other.RecordType == models.RecordPosition &&
			other.AccountID == rec.AccountID && other.InstrumentName == rec.InstrumentName {
			return errors.Wrapf(ErrDuplicate, "position %s/%s", rec.AccountID, rec.InstrumentName)
		}
		if rec.OrderID != nil && other.OrderID != nil && *rec.OrderID == *other.OrderID {
			return errors.Wrapf(ErrDuplicate, "order %s", *rec.OrderID)
		}
	}
	return nil
}
