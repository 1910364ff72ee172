package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"option_bot/internal/broker/paper"
	"option_bot/internal/engine/executor"
	"option_bot/internal/engine/selector"
	"option_bot/internal/engine/spread"
	"option_bot/internal/models"
	deltastore "option_bot/internal/modules/deltastore/service"
	"option_bot/internal/notify"
	"option_bot/pkg/clock"
)

const (
	instX = "BTC-8JAN26-60000-C"
	instY = "BTC-8JAN26-65000-C"
)

var start = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	b     *paper.Broker
	store *deltastore.Memory
	rec   *notify.Recorder
	mgr   *Manager
	acc   models.Account
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fc := clock.NewFake(start)
	b := paper.New()
	exp := start.Add(7 * 24 * time.Hour)
	for _, q := range []struct {
		name   string
		strike float64
		delta  float64
	}{
		{instX, 60000, 0.45},
		{instY, 65000, 0.20},
	} {
		b.AddInstrument(models.Instrument{
			Name: q.name, Kind: models.KindOption, OptionType: models.OptionCall, Strike: q.strike,
			Expiry: exp, TickSize: 0.0001, MinTradeAmount: 0.1, ContractSize: 1, BaseCurrency: "BTC", QuoteInBase: true,
		}, models.Ticker{Bid: 0.0500, Ask: 0.0502, Mark: 0.0501, UnderlyingPrice: 60000, Greeks: models.Greeks{Delta: q.delta}})
	}

	store := deltastore.NewMemory(fc)
	rec := &notify.Recorder{}
	sel := selector.New(selector.DefaultConfig(), fc, nil)
	ex := executor.New(executor.DefaultConfig(), spread.NewAnalyzer(spread.DefaultConfig()), fc, nil)
	return &harness{
		b:     b,
		store: store,
		rec:   rec,
		mgr:   New(DefaultConfig(), sel, ex, store, rec, nil),
		acc:   models.Account{Name: "main", Enabled: true, Currency: "BTC", OptionSide: models.Buy},
	}
}

// longX — живая длинная позиция X и её запись.
func (h *harness) longX(t *testing.T) models.DeltaRecord {
	t.Helper()
	h.b.SetPosition(models.Position{
		InstrumentName: instX, Kind: models.KindOption, Size: 1, Direction: models.Buy,
		AveragePrice: 0.05, MarkPrice: 0.0501, Delta: 0.45,
	})
	rec, err := h.store.Create(context.Background(), models.DeltaRecord{
		AccountID:         "main",
		InstrumentName:    instX,
		TargetDelta:       0.3,
		MovePositionDelta: 0.2,
		MinExpireDays:     models.IntPtr(7),
		TvID:              models.StrPtr("tv-1"),
		Action:            models.ActionOpenLong,
		RecordType:        models.RecordPosition,
	})
	if err != nil {
		t.Fatalf("seed record err=%v", err)
	}
	return rec
}

func (h *harness) records(t *testing.T) []models.DeltaRecord {
	t.Helper()
	out, err := h.store.Find(context.Background(), models.DeltaFilter{AccountID: "main"})
	if err != nil {
		t.Fatalf("find err=%v", err)
	}
	return out
}

func (h *harness) position(t *testing.T, name string) (models.Position, bool) {
	t.Helper()
	ps, err := h.b.Positions(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("positions err=%v", err)
	}
	for _, p := range ps {
		if p.InstrumentName == name {
			return p, true
		}
	}
	return models.Position{}, false
}

func TestFullCloseDeletesRecord(t *testing.T) {
	h := newHarness(t)
	h.longX(t)

	out, err := h.mgr.Close(context.Background(), h.acc, h.b, models.Signal{TvID: "tv-1"}, models.ActionCloseLong)
	if err != nil {
		t.Fatalf("close err=%v", err)
	}
	if !out.Closed {
		t.Fatal("outcome not marked closed")
	}
	if recs := h.records(t); len(recs) != 0 {
		t.Fatalf("records=%d want 0 after full close", len(recs))
	}
	if _, ok := h.position(t, instX); ok {
		t.Fatal("position still open")
	}
	if len(h.rec.Messages()) == 0 {
		t.Fatal("no notification sent")
	}
}

func TestStopKeepsRecordAndHalvesPosition(t *testing.T) {
	h := newHarness(t)
	h.longX(t)

	out, err := h.mgr.Stop(context.Background(), h.acc, h.b, models.Signal{TvID: "tv-1"}, models.ActionStopLong)
	if err != nil {
		t.Fatalf("stop err=%v", err)
	}
	if out.Closed {
		t.Fatal("partial exit marked closed")
	}
	recs := h.records(t)
	if len(recs) != 1 || recs[0].Action != models.ActionStopLong {
		t.Fatalf("records=%+v want one kept record", recs)
	}
	p, ok := h.position(t, instX)
	if !ok || p.Size < 0.5-1e-9 || p.Size > 0.5+1e-9 {
		t.Fatalf("position=%+v want size 0.5", p)
	}
}

func TestReduceRatioFromSize(t *testing.T) {
	h := newHarness(t)
	h.longX(t)

	if _, err := h.mgr.Reduce(context.Background(), h.acc, h.b,
		models.Signal{TvID: "tv-1", Size: 0.3}, models.ActionReduceLong); err != nil {
		t.Fatalf("reduce err=%v", err)
	}
	p, _ := h.position(t, instX)
	if p.Size < 0.7-1e-9 || p.Size > 0.7+1e-9 {
		t.Fatalf("size=%v want 0.7", p.Size)
	}
	if len(h.records(t)) != 1 {
		t.Fatal("record removed on partial reduce")
	}
}

func TestExitValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.mgr.Close(ctx, h.acc, h.b, models.Signal{}, models.ActionCloseLong); !models.IsKind(err, models.ValidationFailure) {
		t.Fatalf("missing tv_id err=%v", err)
	}
	if _, err := h.mgr.Close(ctx, h.acc, h.b, models.Signal{TvID: "nope"}, models.ActionCloseLong); !models.IsKind(err, models.ValidationFailure) {
		t.Fatalf("unknown tv_id err=%v", err)
	}
}

func TestExitAbortsOnWideSpread(t *testing.T) {
	h := newHarness(t)
	h.longX(t)
	h.b.SetTicker(instX, models.Ticker{Bid: 0.04, Ask: 0.06, Greeks: models.Greeks{Delta: 0.45}})

	_, err := h.mgr.Close(context.Background(), h.acc, h.b, models.Signal{TvID: "tv-1"}, models.ActionCloseLong)
	if !models.IsKind(err, models.ExecutionFailure) {
		t.Fatalf("err=%v want execution failure", err)
	}
	if len(h.b.Placed) != 0 {
		t.Fatalf("placed=%d want 0", len(h.b.Placed))
	}
	if len(h.records(t)) != 1 {
		t.Fatal("record must survive aborted close")
	}
}

func TestRollDone(t *testing.T) {
	h := newHarness(t)
	rec := h.longX(t)
	pos, _ := h.position(t, instX)

	res, err := h.mgr.Roll(context.Background(), h.acc, h.b, rec, pos)
	if err != nil {
		t.Fatalf("roll err=%v", err)
	}
	if res.State != RollDone || res.NewInstrument != instY {
		t.Fatalf("res=%+v want DONE on %s", res, instY)
	}
	recs := h.records(t)
	if len(recs) != 1 || recs[0].InstrumentName != instY || recs[0].RecordType != models.RecordPosition {
		t.Fatalf("records=%+v want moved to %s", recs, instY)
	}
	if _, ok := h.position(t, instX); ok {
		t.Fatal("old leg still open")
	}
	if p, ok := h.position(t, instY); !ok || p.Size != 1 {
		t.Fatalf("new leg=%+v ok=%v", p, ok)
	}
}

func TestRollPartialFailure(t *testing.T) {
	h := newHarness(t)
	rec := h.longX(t)
	pos, _ := h.position(t, instX)
	h.b.OnPlace = func(req models.OrderRequest) error {
		if req.Instrument == instY {
			return errors.New("margin check failed")
		}
		return nil
	}

	res, err := h.mgr.Roll(context.Background(), h.acc, h.b, rec, pos)
	if !models.IsKind(err, models.PartialFailure) {
		t.Fatalf("err=%v want partial failure", err)
	}
	if res.State != RollFailedPartial {
		t.Fatalf("state=%s want FAILED_PARTIAL", res.State)
	}
	// старая нога не восстанавливается
	if _, ok := h.position(t, instX); ok {
		t.Fatal("old leg was restored")
	}
	if len(h.b.Placed) != 1 {
		t.Fatalf("placed=%d want only the close leg", len(h.b.Placed))
	}
}

func TestRollRejectsSameInstrument(t *testing.T) {
	h := newHarness(t)
	rec := h.longX(t)
	rec.MovePositionDelta = 0.45
	pos, _ := h.position(t, instX)

	res, err := h.mgr.Roll(context.Background(), h.acc, h.b, rec, pos)
	if err == nil || res.State != RollFailedClean {
		t.Fatalf("state=%s err=%v want FAILED_CLEAN", res.State, err)
	}
	if len(h.b.Placed) != 0 {
		t.Fatalf("placed=%d want 0", len(h.b.Placed))
	}
}

func TestOpenPersistsRecord(t *testing.T) {
	h := newHarness(t)
	sig := models.Signal{Delta1: 0.2, Delta2: 0.15, N: 5, Size: 1, QtyType: models.QtyFixed, TvID: "tv-9"}

	out, err := h.mgr.Open(context.Background(), h.acc, h.b, sig, models.ActionOpenLong)
	if err != nil {
		t.Fatalf("open err=%v", err)
	}
	if out.Instrument != instY {
		t.Fatalf("instrument=%s want %s", out.Instrument, instY)
	}
	if out.Record == nil || out.Record.RecordType != models.RecordPosition || out.Record.TargetDelta != 0.2 {
		t.Fatalf("record=%+v", out.Record)
	}
	if out.Record.TvID == nil || *out.Record.TvID != "tv-9" {
		t.Fatalf("tv_id=%v", out.Record.TvID)
	}
}

func TestOpenValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cases := []models.Signal{
		{Delta1: 0, N: 5, Size: 1},
		{Delta1: 0.3, N: 0, Size: 1},
		{Delta1: 0.3, N: 5, Size: 0},
	}
	for i, sig := range cases {
		if _, err := h.mgr.Open(ctx, h.acc, h.b, sig, models.ActionOpenLong); !models.IsKind(err, models.ValidationFailure) {
			t.Fatalf("case %d err=%v want validation", i, err)
		}
	}
}

func TestOptionPlan(t *testing.T) {
	cases := []struct {
		action models.Action
		side   models.Direction
		typ    models.OptionType
		dir    models.Direction
	}{
		{models.ActionOpenLong, models.Buy, models.OptionCall, models.Buy},
		{models.ActionOpenLong, models.Sell, models.OptionPut, models.Sell},
		{models.ActionOpenShort, models.Buy, models.OptionPut, models.Buy},
		{models.ActionOpenShort, models.Sell, models.OptionCall, models.Sell},
		{models.ActionOpenLong, "", models.OptionCall, models.Buy},
	}
	for _, tc := range cases {
		typ, dir := optionPlan(tc.action, tc.side)
		if typ != tc.typ || dir != tc.dir {
			t.Fatalf("%s/%s -> %s/%s want %s/%s", tc.action, tc.side, typ, dir, tc.typ, tc.dir)
		}
	}
}

func TestOpenUnfilledKeepsOrderRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.b.NeverFill = true
	sig := models.Signal{Delta1: 0.2, Delta2: 0.15, N: 5, Size: 1, QtyType: models.QtyFixed, TvID: "tv-9"}

	out, err := h.mgr.Open(ctx, h.acc, h.b, sig, models.ActionOpenLong)
	if !models.IsKind(err, models.ExecutionFailure) {
		t.Fatalf("err=%v want execution failure", err)
	}
	recs := h.records(t)
	if len(recs) != 1 || recs[0].RecordType != models.RecordOrder {
		t.Fatalf("records=%+v want one order record", recs)
	}
	if recs[0].OrderID == nil || *recs[0].OrderID != out.Execution.OrderID {
		t.Fatalf("order_id=%v want %s", recs[0].OrderID, out.Execution.OrderID)
	}

	// ордер исполнился позже: close по tv_id находит позицию
	h.b.NeverFill = false
	h.b.SetTicker(instY, models.Ticker{Bid: 0.0500, Ask: 0.0502, Mark: 0.0501, Greeks: models.Greeks{Delta: 0.20}})
	if _, ok := h.position(t, instY); !ok {
		t.Fatal("resting order did not fill")
	}
	if _, err := h.mgr.Close(ctx, h.acc, h.b, models.Signal{TvID: "tv-9"}, models.ActionCloseLong); err != nil {
		t.Fatalf("close err=%v", err)
	}
	if _, ok := h.position(t, instY); ok {
		t.Fatal("position still open after close")
	}
	if recs := h.records(t); len(recs) != 0 {
		t.Fatalf("records=%+v want none", recs)
	}
}

func TestStopOnMinLotClosesFully(t *testing.T) {
	h := newHarness(t)
	h.b.SetPosition(models.Position{
		InstrumentName: instX, Kind: models.KindOption, Size: 0.1, Direction: models.Buy, AveragePrice: 0.05,
	})
	if _, err := h.store.Create(context.Background(), models.DeltaRecord{
		AccountID: "main", InstrumentName: instX, TargetDelta: 0.3, TvID: models.StrPtr("tv-1"),
		Action: models.ActionOpenLong, RecordType: models.RecordPosition,
	}); err != nil {
		t.Fatalf("seed err=%v", err)
	}

	out, err := h.mgr.Stop(context.Background(), h.acc, h.b, models.Signal{TvID: "tv-1"}, models.ActionStopLong)
	if err != nil {
		t.Fatalf("stop err=%v", err)
	}
	if _, ok := h.position(t, instX); ok {
		t.Fatal("min-lot position not closed")
	}
	if !out.Closed {
		t.Fatal("full exit not marked closed")
	}
	if recs := h.records(t); len(recs) != 0 {
		t.Fatalf("records=%+v want deleted", recs)
	}
}

func TestRollCloseLegPending(t *testing.T) {
	h := newHarness(t)
	rec := h.longX(t)
	pos, _ := h.position(t, instX)
	h.b.NeverFill = true
	ctx := context.Background()

	res, err := h.mgr.Roll(ctx, h.acc, h.b, rec, pos)
	if !models.IsKind(err, models.ExecutionFailure) || res.State != RollClosePending {
		t.Fatalf("state=%s err=%v want CLOSE_PENDING", res.State, err)
	}
	if len(h.b.Placed) != 1 {
		t.Fatalf("placed=%d want only the close leg", len(h.b.Placed))
	}

	// пока закрывающий ордер висит, второй перекат не ставит новых ордеров
	res, err = h.mgr.Roll(ctx, h.acc, h.b, rec, pos)
	if err == nil || res.State != RollFailedClean {
		t.Fatalf("state=%s err=%v want FAILED_CLEAN", res.State, err)
	}
	if len(h.b.Placed) != 1 {
		t.Fatalf("placed=%d, close orders stacked", len(h.b.Placed))
	}
	open, _ := h.b.OpenOrders(ctx, "BTC")
	if len(open) != 1 {
		t.Fatalf("open orders=%d want 1", len(open))
	}
	if recs := h.records(t); len(recs) != 1 || recs[0].InstrumentName != instX {
		t.Fatalf("records=%+v want untouched", recs)
	}
}

func TestRollSelectionFailureRefreshesChain(t *testing.T) {
	h := newHarness(t)
	rec := h.longX(t)
	pos, _ := h.position(t, instX)
	ctx := context.Background()

	rec.MovePositionDelta = 0.45
	if res, err := h.mgr.Roll(ctx, h.acc, h.b, rec, pos); !models.IsKind(err, models.SelectionFailure) {
		t.Fatalf("state=%s err=%v want selection failure", res.State, err)
	}

	// новый страйк листится после первой попытки
	const instZ = "BTC-8JAN26-62000-C"
	h.b.AddInstrument(models.Instrument{
		Name: instZ, Kind: models.KindOption, OptionType: models.OptionCall, Strike: 62000,
		Expiry: start.Add(7 * 24 * time.Hour), TickSize: 0.0001, MinTradeAmount: 0.1, ContractSize: 1,
		BaseCurrency: "BTC", QuoteInBase: true,
	}, models.Ticker{Bid: 0.0500, Ask: 0.0502, Mark: 0.0501, UnderlyingPrice: 60000, Greeks: models.Greeks{Delta: 0.26}})

	rec.MovePositionDelta = 0.26
	res, err := h.mgr.Roll(ctx, h.acc, h.b, rec, pos)
	if err != nil {
		t.Fatalf("roll err=%v", err)
	}
	if res.NewInstrument != instZ {
		t.Fatalf("new=%s want %s from refreshed chain", res.NewInstrument, instZ)
	}
}
