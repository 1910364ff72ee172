package service

import (
	"context"
	"testing"
	"time"

	"option_bot/internal/models"
	"option_bot/pkg/clock"

	"github.com/pkg/errors"
)

func position(account, instrument string) models.DeltaRecord {
	return models.DeltaRecord{
		AccountID:      account,
		InstrumentName: instrument,
		TargetDelta:    0.3,
		TvID:           models.StrPtr("tv-1"),
		Action:         models.ActionOpenLong,
		RecordType:     models.RecordPosition,
	}
}

func TestMemoryUniqueness(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(clock.NewFake(time.Unix(0, 0)))

	if _, err := m.Create(ctx, position("a", "BTC-X")); err != nil {
		t.Fatalf("create err=%v", err)
	}
	if _, err := m.Create(ctx, position("a", "BTC-X")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second position err=%v want ErrDuplicate", err)
	}
	// другой аккаунт — можно
	if _, err := m.Create(ctx, position("b", "BTC-X")); err != nil {
		t.Fatalf("other account err=%v", err)
	}

	order := position("a", "BTC-Y")
	order.RecordType = models.RecordOrder
	order.OrderID = models.StrPtr("o-1")
	if _, err := m.Create(ctx, order); err != nil {
		t.Fatalf("order err=%v", err)
	}
	order.InstrumentName = "BTC-Z"
	if _, err := m.Create(ctx, order); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("dup order_id err=%v want ErrDuplicate", err)
	}
}

func TestMemoryFindUpdateDelete(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Unix(100, 0))
	m := NewMemory(fc)

	rec, err := m.Create(ctx, position("a", "BTC-X"))
	if err != nil {
		t.Fatalf("create err=%v", err)
	}
	got, err := m.Find(ctx, models.DeltaFilter{AccountID: "a", TvID: "tv-1"})
	if err != nil || len(got) != 1 || got[0].ID != rec.ID {
		t.Fatalf("find=%v err=%v", got, err)
	}

	fc.Advance(time.Minute)
	rec.InstrumentName = "BTC-Y"
	if err := m.Update(ctx, rec); err != nil {
		t.Fatalf("update err=%v", err)
	}
	upd, _ := m.Get(ctx, rec.ID)
	if upd.InstrumentName != "BTC-Y" || !upd.UpdatedAt.After(upd.CreatedAt) {
		t.Fatalf("updated=%+v", upd)
	}

	if err := m.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete err=%v", err)
	}
	if _, err := m.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete err=%v want ErrNotFound", err)
	}
}

func TestValidateRejectsOrderWithoutID(t *testing.T) {
	rec := position("a", "BTC-X")
	rec.RecordType = models.RecordOrder
	if err := Validate(rec); err == nil {
		t.Fatal("expected error for order record without order_id")
	}
}
