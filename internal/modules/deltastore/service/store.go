package service

import (
	"context"

	"option_bot/internal/models"

	"github.com/pkg/errors"
)

var (
	// ErrDuplicate — нарушена уникальность: вторая position-запись на
	// (аккаунт, инструмент) или повтор order_id.
	ErrDuplicate = errors.New("delta record already exists")
	ErrNotFound  = errors.New("delta record not found")
)

// Store — единственное долговременное состояние бота.
type Store interface {
	Create(ctx context.Context, rec models.DeltaRecord) (models.DeltaRecord, error)
	Update(ctx context.Context, rec models.DeltaRecord) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (models.DeltaRecord, error)
	Find(ctx context.Context, f models.DeltaFilter) ([]models.DeltaRecord, error)
}

// Validate проверяет запись до записи в базу.
func Validate(rec models.DeltaRecord) error {
	if rec.AccountID == "" || rec.InstrumentName == "" {
		return errors.New("account_id and instrument_name are required")
	}
	switch rec.RecordType {
	case models.RecordPosition, models.RecordOrder:
	default:
		return errors.Errorf("unknown record type %q", rec.RecordType)
	}
	if rec.RecordType == models.RecordOrder && rec.OrderID == nil {
		return errors.New("order record without order_id")
	}
	return nil
}
