package models

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

func TestResolveAction(t *testing.T) {
	cases := []struct {
		name string
		sig  Signal
		want Action
		ok   bool
	}{
		{"explicit", Signal{Action: " Stop_Long "}, ActionStopLong, true},
		{"explicit unknown", Signal{Action: "hold"}, "hold", false},
		{"flat to long", Signal{PrevMarketPosition: MarketFlat, MarketPosition: MarketLong}, ActionOpenLong, true},
		{"flat to short", Signal{PrevMarketPosition: "FLAT", MarketPosition: "Short"}, ActionOpenShort, true},
		{"long to flat", Signal{PrevMarketPosition: MarketLong, MarketPosition: MarketFlat}, ActionCloseLong, true},
		{"short to flat", Signal{PrevMarketPosition: MarketShort, MarketPosition: MarketFlat}, ActionCloseShort, true},
		{"long reduce", Signal{PrevMarketPosition: MarketLong, MarketPosition: MarketLong, Side: "sell"}, ActionReduceLong, true},
		{"short reduce", Signal{PrevMarketPosition: MarketShort, MarketPosition: MarketShort, Side: "BUY"}, ActionReduceShort, true},
		{"long add", Signal{PrevMarketPosition: MarketLong, MarketPosition: MarketLong, Side: "buy"}, "", false},
		{"empty", Signal{}, "", false},
	}
	for _, tc := range cases {
		got, ok := tc.sig.ResolveAction()
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: got (%q,%v) want (%q,%v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestActionPredicates(t *testing.T) {
	if !ActionOpenShort.IsOpen() || ActionOpenShort.IsLong() {
		t.Fatalf("open_short predicates")
	}
	if !ActionReduceLong.IsReduce() || !ActionReduceLong.IsLong() {
		t.Fatalf("reduce_long predicates")
	}
	if !ActionStopShort.IsStop() || ActionStopShort.IsClose() {
		t.Fatalf("stop_short predicates")
	}
}

func TestPositionROI(t *testing.T) {
	p := Position{Size: -2, AveragePrice: 0.02, MarkPrice: 0.002}
	if !p.IsShort() || p.AbsSize() != 2 {
		t.Fatalf("short=%v abs=%v", p.IsShort(), p.AbsSize())
	}
	if got := p.ShortROI(); math.Abs(got-0.9) > 1e-9 {
		t.Fatalf("roi=%v want 0.9", got)
	}
	if got := (Position{MarkPrice: 1}).ShortROI(); got != 0 {
		t.Fatalf("roi without avg=%v want 0", got)
	}
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("boom")
	err := errors.Wrap(WrapKind(PartialFailure, base, "roll"), "engine")
	if KindOf(err) != PartialFailure || !IsKind(err, PartialFailure) {
		t.Fatalf("kind=%q", KindOf(err))
	}
	if !errors.Is(err, base) {
		t.Fatalf("cause lost")
	}
	if WrapKind(ExecutionFailure, nil, "x") != nil {
		t.Fatalf("nil err must stay nil")
	}
	if KindOf(base) != "" {
		t.Fatalf("plain error has no kind")
	}
}
