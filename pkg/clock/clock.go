// Package clock прячет time за интерфейсом, чтобы циклы опроса и
// пошаговый лимитный ордер можно было гонять в тестах без реальных пауз.
package clock

import (
	"context"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Sleep ждёт d или отмену контекста.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

// Real — обычные часы.
type Real struct{}

func New() Real { return Real{} }

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) NewTicker(d time.Duration) Ticker       { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Fake — ручные часы. After срабатывает сразу и сдвигает виртуальное время,
// тикеры срабатывают только по Tick().
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	slept   []time.Duration
	tickers []*fakeTicker
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.slept = append(f.slept, d)
	ch := make(chan time.Time, 1)
	ch <- f.now
	return ch
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time, 1), every: d}
	f.tickers = append(f.tickers, t)
	return t
}

// Tick сдвигает время на период каждого живого тикера и будит его.
// Если предыдущий тик ещё не прочитан, новый теряется, как у time.Ticker.
func (f *Fake) Tick() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tickers {
		if t.stopped() {
			continue
		}
		f.now = f.now.Add(t.every)
		select {
		case t.c <- f.now:
		default:
		}
	}
}

// Advance сдвигает время без срабатывания тикеров.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Slept возвращает все паузы, запрошенные через After.
func (f *Fake) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.slept))
	copy(out, f.slept)
	return out
}

type fakeTicker struct {
	mu    sync.Mutex
	c     chan time.Time
	every time.Duration
	stop  bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stop = true
	t.mu.Unlock()
}

func (t *fakeTicker) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop
}
