package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"option_bot/internal/broker"
	"option_bot/internal/broker/paper"
	"option_bot/internal/engine/executor"
	"option_bot/internal/engine/lifecycle"
	"option_bot/internal/engine/selector"
	"option_bot/internal/engine/spread"
	"option_bot/internal/models"
	deltastore "option_bot/internal/modules/deltastore/service"
	"option_bot/internal/runner/sessions"
	"option_bot/pkg/clock"
)

const (
	instX   = "BTC-8JAN26-60000-C"
	instY   = "BTC-8JAN26-65000-C"
	instPut = "BTC-8JAN26-50000-P"
)

var start = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	b     *paper.Broker
	fc    *clock.Fake
	store *deltastore.Memory
	mon   *Monitor
}

func newFixture(t *testing.T, md func(*paper.Broker) broker.Broker, store deltastore.Store, cfg Config) *fixture {
	t.Helper()
	fc := clock.NewFake(start)
	b := paper.New()
	exp := start.Add(7 * 24 * time.Hour)
	add := func(name string, typ models.OptionType, delta, bid, ask float64) {
		b.AddInstrument(models.Instrument{
			Name: name, Kind: models.KindOption, OptionType: typ, Expiry: exp,
			TickSize: 0.0001, MinTradeAmount: 0.1, ContractSize: 1, BaseCurrency: "BTC", QuoteInBase: true,
		}, models.Ticker{Bid: bid, Ask: ask, UnderlyingPrice: 60000, Greeks: models.Greeks{Delta: delta}})
	}
	add(instX, models.OptionCall, 0.45, 0.0500, 0.0502)
	add(instY, models.OptionCall, 0.20, 0.0500, 0.0502)
	add(instPut, models.OptionPut, -0.05, 0.0049, 0.0050)

	mem := deltastore.NewMemory(fc)
	if store == nil {
		store = mem
	}
	var br broker.Broker = b
	if md != nil {
		br = md(b)
	}
	reg := sessions.NewRegistry([]models.Account{
		{Name: "main", Enabled: true, Currency: "BTC"},
	}, broker.FactoryFunc(func(models.Account) (broker.Broker, error) { return br, nil }))
	lm := lifecycle.New(lifecycle.DefaultConfig(),
		selector.New(selector.DefaultConfig(), fc, nil),
		executor.New(executor.DefaultConfig(), spread.NewAnalyzer(spread.DefaultConfig()), fc, nil),
		store, nil, nil)
	return &fixture{b: b, fc: fc, store: mem, mon: NewMonitor(cfg, reg, lm, store, fc, nil)}
}

func (f *fixture) seed(t *testing.T, rec models.DeltaRecord) models.DeltaRecord {
	t.Helper()
	rec.AccountID = "main"
	if rec.RecordType == "" {
		rec.RecordType = models.RecordPosition
	}
	out, err := f.store.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("seed err=%v", err)
	}
	return out
}

// dupPositions отдаёт каждую позицию дважды.
type dupPositions struct{ *paper.Broker }

func (d dupPositions) Positions(ctx context.Context, currency string) ([]models.Position, error) {
	ps, err := d.Broker.Positions(ctx, currency)
	return append(ps, ps...), err
}

func TestPositionPassRollsOncePerInstrument(t *testing.T) {
	f := newFixture(t, func(b *paper.Broker) broker.Broker { return dupPositions{b} }, nil, DefaultConfig())
	f.b.SetPosition(models.Position{InstrumentName: instX, Kind: models.KindOption, Size: 1, Direction: models.Buy, AveragePrice: 0.05})
	f.seed(t, models.DeltaRecord{
		InstrumentName: instX, TargetDelta: 0.3, MovePositionDelta: 0.2,
		MinExpireDays: models.IntPtr(7), TvID: models.StrPtr("tv-1"), Action: models.ActionOpenLong,
	})

	rep, err := f.mon.positionPass(context.Background())
	if err != nil {
		t.Fatalf("pass err=%v", err)
	}
	if rep.Rolls != 1 {
		t.Fatalf("rolls=%d want exactly 1", rep.Rolls)
	}
	recs, _ := f.store.Find(context.Background(), models.DeltaFilter{AccountID: "main"})
	if len(recs) != 1 || recs[0].InstrumentName != instY {
		t.Fatalf("records=%+v want moved to %s", recs, instY)
	}

	// новая нога в пределах цели: второй проход ничего не делает
	rep, err = f.mon.positionPass(context.Background())
	if err != nil || rep.Rolls != 0 {
		t.Fatalf("second pass rolls=%d err=%v", rep.Rolls, err)
	}
}

func TestPositionPassClosesOnShortROI(t *testing.T) {
	f := newFixture(t, nil, nil, DefaultConfig())
	f.b.SetPosition(models.Position{
		InstrumentName: instPut, Kind: models.KindOption, Size: -1, Direction: models.Sell,
		AveragePrice: 0.05, MarkPrice: 0.005,
	})
	f.seed(t, models.DeltaRecord{
		InstrumentName: instPut, TargetDelta: 0.5, MovePositionDelta: 0.3,
		TvID: models.StrPtr("tv-2"), Action: models.ActionOpenLong,
	})

	rep, err := f.mon.positionPass(context.Background())
	if err != nil {
		t.Fatalf("pass err=%v", err)
	}
	if rep.Closes != 1 || rep.Rolls != 0 {
		t.Fatalf("closes=%d rolls=%d want 1/0", rep.Closes, rep.Rolls)
	}
	if recs, _ := f.store.Find(context.Background(), models.DeltaFilter{}); len(recs) != 0 {
		t.Fatalf("records=%+v want deleted", recs)
	}
	ps, _ := f.b.Positions(context.Background(), "BTC")
	if len(ps) != 0 {
		t.Fatalf("positions=%+v want flat", ps)
	}
}

func TestPositionPassKeepsBelowThreshold(t *testing.T) {
	f := newFixture(t, nil, nil, DefaultConfig())
	f.b.SetPosition(models.Position{
		InstrumentName: instPut, Kind: models.KindOption, Size: -1, Direction: models.Sell,
		AveragePrice: 0.05, MarkPrice: 0.01, // roi 0.8
	})
	f.seed(t, models.DeltaRecord{InstrumentName: instPut, TargetDelta: 0.5, Action: models.ActionOpenLong})

	rep, err := f.mon.positionPass(context.Background())
	if err != nil || rep.Closes != 0 || rep.Rolls != 0 {
		t.Fatalf("rep=%+v err=%v want no action", rep, err)
	}
}

func TestPositionPassSkipsAccountErrors(t *testing.T) {
	f := newFixture(t, nil, nil, DefaultConfig())
	f.b.PositionsErr = errors.New("gateway timeout")

	if _, err := f.mon.positionPass(context.Background()); err != nil {
		t.Fatalf("per-account error escalated: %v", err)
	}
}

func TestOrderPassPromotesFilled(t *testing.T) {
	f := newFixture(t, nil, nil, DefaultConfig())
	ctx := context.Background()

	// ордер исполнен: открытого ордера нет, позиция есть
	f.b.SetPosition(models.Position{InstrumentName: instX, Kind: models.KindOption, Size: 1, Direction: models.Buy})
	filled := f.seed(t, models.DeltaRecord{InstrumentName: instX, OrderID: models.StrPtr("gone-1"),
		RecordType: models.RecordOrder, Action: models.ActionOpenLong})

	// сирота: ни ордера, ни позиции
	orphan := f.seed(t, models.DeltaRecord{InstrumentName: instY, OrderID: models.StrPtr("gone-2"),
		RecordType: models.RecordOrder, Action: models.ActionOpenLong})

	// висящий ордер
	f.b.NeverFill = true
	o, err := f.b.PlaceLimitOrder(ctx, models.OrderRequest{Instrument: instPut, Direction: models.Sell, Amount: 1, Price: 0.006})
	if err != nil {
		t.Fatalf("place err=%v", err)
	}
	resting := f.seed(t, models.DeltaRecord{InstrumentName: instPut, OrderID: models.StrPtr(o.ID),
		RecordType: models.RecordOrder, Action: models.ActionOpenShort})

	rep, err := f.mon.orderPass(ctx)
	if err != nil {
		t.Fatalf("pass err=%v", err)
	}
	if rep.Promoted != 1 || rep.Orphans != 1 {
		t.Fatalf("rep=%+v want 1 promoted, 1 orphan", rep)
	}

	if got, _ := f.store.Get(ctx, filled.ID); got.RecordType != models.RecordPosition {
		t.Fatalf("filled record type=%s", got.RecordType)
	}
	if _, err := f.store.Get(ctx, orphan.ID); err != nil {
		t.Fatalf("orphan must be kept: %v", err)
	}
	if got, _ := f.store.Get(ctx, resting.ID); got.RecordType != models.RecordOrder {
		t.Fatalf("resting record type=%s", got.RecordType)
	}
}

type failingStore struct{ deltastore.Store }

func (failingStore) Find(context.Context, models.DeltaFilter) ([]models.DeltaRecord, error) {
	return nil, errors.New("db down")
}

func TestLoopStopsAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 2
	cfg.StartupBurst = false
	f := newFixture(t, nil, failingStore{}, cfg)
	f.b.SetPosition(models.Position{InstrumentName: instX, Kind: models.KindOption, Size: 1, Direction: models.Buy})

	f.mon.Start(context.Background())
	defer func() { _ = f.mon.Stop() }()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := f.mon.Status()
		if st[loopPositions].Stopped && st[loopOrders].Stopped {
			if st[loopPositions].ConsecutiveFailures != 3 {
				t.Fatalf("failures=%d want 3", st[loopPositions].ConsecutiveFailures)
			}
			return
		}
		f.fc.Tick()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("loops still running: %+v", f.mon.Status())
}

func TestStopWaitsForLoops(t *testing.T) {
	f := newFixture(t, nil, nil, DefaultConfig())
	f.mon.Start(context.Background())
	if err := f.mon.Stop(); err != nil {
		t.Fatalf("stop err=%v", err)
	}
	if err := f.mon.Stop(); err != nil {
		t.Fatalf("second stop err=%v", err)
	}
}

func TestOrderPassKeepsRecordOfTrackedPosition(t *testing.T) {
	f := newFixture(t, nil, nil, DefaultConfig())
	ctx := context.Background()

	f.b.SetPosition(models.Position{InstrumentName: instX, Kind: models.KindOption, Size: 2, Direction: models.Buy})
	f.seed(t, models.DeltaRecord{InstrumentName: instX, TargetDelta: 0.5, TvID: models.StrPtr("tv-A"), Action: models.ActionOpenLong})
	second := f.seed(t, models.DeltaRecord{InstrumentName: instX, OrderID: models.StrPtr("gone-3"), TargetDelta: 0.5,
		TvID: models.StrPtr("tv-B"), RecordType: models.RecordOrder, Action: models.ActionOpenLong})

	rep, err := f.mon.orderPass(ctx)
	if err != nil {
		t.Fatalf("pass err=%v", err)
	}
	if rep.Promoted != 0 {
		t.Fatalf("promoted=%d want 0", rep.Promoted)
	}
	recs, _ := f.store.Find(ctx, models.DeltaFilter{AccountID: "main", TvID: "tv-B"})
	if len(recs) != 1 || recs[0].ID != second.ID || recs[0].RecordType != models.RecordOrder {
		t.Fatalf("tv-B records=%+v want kept as order record", recs)
	}
}

func TestPositionPassSkipsDriftWithoutLiveGreeks(t *testing.T) {
	f := newFixture(t, nil, nil, DefaultConfig())
	ctx := context.Background()

	// дельта снимка взвешена размером: 10 контрактов по 0.25
	f.b.SetPosition(models.Position{InstrumentName: instY, Kind: models.KindOption, Size: 10, Direction: models.Buy,
		AveragePrice: 0.05, Delta: 2.5})
	f.seed(t, models.DeltaRecord{InstrumentName: instY, TargetDelta: 0.3, MovePositionDelta: 0.45,
		TvID: models.StrPtr("tv-1"), Action: models.ActionOpenLong})
	f.b.GreeksErr = errors.New("greeks unavailable")

	rep, err := f.mon.positionPass(ctx)
	if err != nil {
		t.Fatalf("pass err=%v", err)
	}
	if rep.Rolls != 0 || len(f.b.Placed) != 0 {
		t.Fatalf("rolls=%d placed=%d want no roll without live greeks", rep.Rolls, len(f.b.Placed))
	}

	// живая дельта 0.20 ниже цели
	f.b.GreeksErr = nil
	if rep, err = f.mon.positionPass(ctx); err != nil || rep.Rolls != 0 || len(f.b.Placed) != 0 {
		t.Fatalf("rolls=%d placed=%d err=%v", rep.Rolls, len(f.b.Placed), err)
	}
}

func TestPositionPassDoesNotStackCloseOrders(t *testing.T) {
	f := newFixture(t, nil, nil, DefaultConfig())
	ctx := context.Background()
	f.b.NeverFill = true
	f.b.SetPosition(models.Position{InstrumentName: instX, Kind: models.KindOption, Size: 1, Direction: models.Buy, AveragePrice: 0.05})
	f.seed(t, models.DeltaRecord{
		InstrumentName: instX, TargetDelta: 0.3, MovePositionDelta: 0.2,
		MinExpireDays: models.IntPtr(7), TvID: models.StrPtr("tv-1"), Action: models.ActionOpenLong,
	})

	for i := 0; i < 2; i++ {
		if _, err := f.mon.positionPass(ctx); err != nil {
			t.Fatalf("pass %d err=%v", i, err)
		}
	}
	open, _ := f.b.OpenOrders(ctx, "BTC")
	n := 0
	for _, o := range open {
		if o.Instrument == instX {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("open close orders on %s=%d want 1", instX, n)
	}
}
