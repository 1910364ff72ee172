package executor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"option_bot/internal/broker/paper"
	"option_bot/internal/engine/spread"
	"option_bot/internal/models"
	"option_bot/pkg/clock"
)

var inst = models.Instrument{
	Name:           "BTC-27MAR26-60000-C",
	Kind:           models.KindOption,
	OptionType:     models.OptionCall,
	Strike:         60000,
	Expiry:         time.Date(2026, 3, 27, 8, 0, 0, 0, time.UTC),
	TickSize:       0.0001,
	MinTradeAmount: 0.1,
	ContractSize:   1,
	BaseCurrency:   "BTC",
	QuoteInBase:    true,
}

func setup(bid, ask float64) (*Executor, *paper.Broker, *clock.Fake) {
	b := paper.New()
	b.AddInstrument(inst, models.Ticker{Bid: bid, Ask: ask, Mark: (bid + ask) / 2, UnderlyingPrice: 60000})
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ex := New(DefaultConfig(), spread.NewAnalyzer(spread.DefaultConfig()), fc, nil)
	return ex, b, fc
}

func buy(qty float64) Request {
	return Request{Instrument: inst, Direction: models.Buy, Quantity: qty, QtyType: models.QtyFixed}
}

func TestProgressiveExhaustsWithFinalReprice(t *testing.T) {
	ex, b, fc := setup(0.0500, 0.0502)
	b.NeverFill = true

	res, err := ex.Execute(context.Background(), b, buy(1))
	if err != nil {
		t.Fatalf("Execute err=%v", err)
	}
	if res.Strategy != models.StrategyProgressive {
		t.Fatalf("strategy=%s want progressive", res.Strategy)
	}
	if len(b.Amends) != 4 {
		t.Fatalf("amends=%d want 3 reprices + 1 final", len(b.Amends))
	}
	if res.Attempts != 4 {
		t.Fatalf("attempts=%d want 4", res.Attempts)
	}
	if last := b.Amends[3].Price; math.Abs(last-0.0502) > 1e-12 {
		t.Fatalf("final price=%v want ask 0.0502", last)
	}
	for i, a := range b.Amends {
		if a.Price > 0.0502+1e-12 {
			t.Fatalf("amend %d price=%v crosses ask", i, a.Price)
		}
	}
	if s := fc.Slept(); len(s) != 3 || s[0] != 8*time.Second {
		t.Fatalf("slept=%v want 3x8s", s)
	}
	if res.Success || res.FinalState != models.OrderOpen {
		t.Fatalf("success=%v state=%s want unfilled open", res.Success, res.FinalState)
	}
	if res.OpenOrders != 1 {
		t.Fatalf("open orders=%d want 1", res.OpenOrders)
	}
}

func TestProgressiveFillsMidWalk(t *testing.T) {
	ex, b, _ := setup(0.0500, 0.0502)

	res, err := ex.Execute(context.Background(), b, buy(1))
	if err != nil {
		t.Fatalf("Execute err=%v", err)
	}
	if !res.Success || res.FinalState != models.OrderFilled {
		t.Fatalf("success=%v state=%s want filled", res.Success, res.FinalState)
	}
	if len(b.Amends) != 2 {
		t.Fatalf("amends=%d want 2", len(b.Amends))
	}
	if res.ExecutedQuantity != 1 || res.PositionSize != 1 {
		t.Fatalf("executed=%v position=%v want 1/1", res.ExecutedQuantity, res.PositionSize)
	}
}

func TestProgressiveAmendFailureStops(t *testing.T) {
	ex, b, _ := setup(0.0500, 0.0502)
	b.NeverFill = true
	b.AmendErr = errors.New("edit rejected")

	res, err := ex.Execute(context.Background(), b, buy(1))
	if err != nil {
		t.Fatalf("Execute err=%v", err)
	}
	if len(b.Amends) != 1 {
		t.Fatalf("amends=%d want 1 (no final reprice after failure)", len(b.Amends))
	}
	if res.Success {
		t.Fatal("unfilled order reported success")
	}
}

func TestProgressiveSkipsExternallyCancelled(t *testing.T) {
	ex, b, _ := setup(0.0500, 0.0502)
	b.NeverFill = true

	// отменяем ордер сразу после постановки
	orig := ex.clock
	ex.clock = cancelOnSleep{Clock: orig, cancel: func() { b.CancelOrder("paper-1") }}

	res, err := ex.Execute(context.Background(), b, buy(1))
	if err != nil {
		t.Fatalf("Execute err=%v", err)
	}
	if res.FinalState != models.OrderCancelled || res.Success {
		t.Fatalf("state=%s success=%v want cancelled/false", res.FinalState, res.Success)
	}
	if len(b.Amends) != 0 {
		t.Fatalf("amends=%d want 0", len(b.Amends))
	}
}

type cancelOnSleep struct {
	clock.Clock
	cancel func()
}

func (c cancelOnSleep) After(d time.Duration) <-chan time.Time {
	c.cancel()
	return c.Clock.After(d)
}

// hookOnSleep вызывает hook перед каждым ожиданием шага (n с единицы).
type hookOnSleep struct {
	clock.Clock
	n    *int
	hook func(n int)
}

func (c hookOnSleep) After(d time.Duration) <-chan time.Time {
	*c.n++
	c.hook(*c.n)
	return c.Clock.After(d)
}

func TestProgressiveSkipsStepOnInvalidQuote(t *testing.T) {
	ex, b, _ := setup(0.0500, 0.0502)
	b.NeverFill = true

	good := models.Ticker{Bid: 0.0500, Ask: 0.0502, Mark: 0.0501, UnderlyingPrice: 60000}
	var sleeps int
	ex.clock = hookOnSleep{Clock: ex.clock, n: &sleeps, hook: func(step int) {
		switch step {
		case 1:
			b.SetTicker(inst.Name, models.Ticker{Bid: 0, Ask: 0.0502})
		case 2:
			b.SetTicker(inst.Name, good)
		}
	}}

	res, err := ex.Execute(context.Background(), b, buy(1))
	if err != nil {
		t.Fatalf("Execute err=%v", err)
	}
	// шаг 1 пропущен, шаги 2-3 и финальная перестановка
	if len(b.Amends) != 3 || res.Attempts != 3 {
		t.Fatalf("amends=%d attempts=%d want 3/3", len(b.Amends), res.Attempts)
	}
	// 0.0501 + 0.0001*2/3 по тику
	if first := b.Amends[0].Price; math.Abs(first-0.0502) > 1e-12 {
		t.Fatalf("first reprice=%v want step-2 price 0.0502", first)
	}
	if last := b.Amends[2].Price; math.Abs(last-0.0502) > 1e-12 {
		t.Fatalf("final price=%v want ask 0.0502", last)
	}
	if res.Success || res.FinalState != models.OrderOpen {
		t.Fatalf("success=%v state=%s want open, no failure escalation", res.Success, res.FinalState)
	}
}

func TestDirectOnWideSpread(t *testing.T) {
	ex, b, fc := setup(0.0500, 0.0600)

	res, err := ex.Execute(context.Background(), b, buy(1))
	if err != nil {
		t.Fatalf("Execute err=%v", err)
	}
	if res.Strategy != models.StrategyDirect {
		t.Fatalf("strategy=%s want direct", res.Strategy)
	}
	if len(b.Placed) != 1 || math.Abs(b.Placed[0].Price-0.055) > 1e-12 {
		t.Fatalf("placed=%+v want one order at 0.055", b.Placed)
	}
	if len(b.Amends) != 0 || len(fc.Slept()) != 0 {
		t.Fatalf("direct order must not walk: amends=%d slept=%v", len(b.Amends), fc.Slept())
	}
	if !res.Success || res.FinalState != models.OrderOpen {
		t.Fatalf("success=%v state=%s want resting accepted order", res.Success, res.FinalState)
	}
}

func TestQuantityCorrection(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want float64
	}{
		{name: "fixed floors to lot", req: buy(1.37), want: 1.3},
		{name: "fixed clamps to minimum", req: buy(0.05), want: 0.1},
		{name: "cash converts via underlying", req: Request{
			Instrument: inst, Direction: models.Buy, Quantity: 1000, QtyType: models.QtyCash,
		}, want: 0.3},
	}
	for _, tc := range cases {
		ex, b, _ := setup(0.0500, 0.0600)
		if _, err := ex.Execute(context.Background(), b, tc.req); err != nil {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
		if got := b.Placed[0].Amount; math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: amount=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestExecuteRejectsBadInput(t *testing.T) {
	ex, b, _ := setup(0.0500, 0.0502)
	if _, err := ex.Execute(context.Background(), b, buy(0)); !models.IsKind(err, models.ValidationFailure) {
		t.Fatalf("zero qty err=%v want validation", err)
	}

	b.SetTicker(inst.Name, models.Ticker{Bid: 0, Ask: 0.05})
	if _, err := ex.Execute(context.Background(), b, buy(1)); !models.IsKind(err, models.ExecutionFailure) {
		t.Fatalf("bad quote err=%v want execution", err)
	}
}
