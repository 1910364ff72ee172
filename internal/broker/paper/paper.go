// Package paper — биржа в памяти для сухого прогона и тестов.
// Лимитный ордер исполняется целиком, как только его цена пересекает
// противоположную сторону котировки.
package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"option_bot/internal/broker"
	"option_bot/internal/models"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("paper: not found")

type Broker struct {
	mu sync.Mutex

	instruments map[string]models.Instrument
	tickers     map[string]models.Ticker
	index       map[string]float64
	orders      map[string]*models.Order
	positions   map[string]*models.Position
	seq         int

	// NeverFill отключает исполнение, ордера остаются висеть.
	NeverFill bool
	// Ошибки для тестов сбоев.
	PlaceErr     error
	AmendErr     error
	PositionsErr error
	GreeksErr    error
	// OnPlace может отклонить конкретный ордер; вызывается под блокировкой.
	OnPlace func(req models.OrderRequest) error

	Placed  []models.OrderRequest
	Amends  []Amend
	Tickers int
}

type Amend struct {
	OrderID string
	Amount  float64
	Price   float64
}

var _ broker.Broker = (*Broker)(nil)

func New() *Broker {
	return &Broker{
		instruments: make(map[string]models.Instrument),
		tickers:     make(map[string]models.Ticker),
		index:       make(map[string]float64),
		orders:      make(map[string]*models.Order),
		positions:   make(map[string]*models.Position),
	}
}

func (b *Broker) AddInstrument(inst models.Instrument, t models.Ticker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.Instrument = inst.Name
	b.instruments[inst.Name] = inst
	b.tickers[inst.Name] = t
}

func (b *Broker) SetTicker(name string, t models.Ticker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.Instrument = name
	b.tickers[name] = t
	// котировка сдвинулась: висящие ордера могли пересечься
	for _, o := range b.orders {
		if o.Instrument == name {
			b.tryFill(o)
		}
	}
}

func (b *Broker) SetIndex(currency string, px float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index[strings.ToUpper(currency)] = px
}

func (b *Broker) SetPosition(p models.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := p
	b.positions[p.InstrumentName] = &cp
}

// CancelOrder эмулирует отмену ордера снаружи.
func (b *Broker) CancelOrder(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.orders[id]; ok && o.State == models.OrderOpen {
		o.State = models.OrderCancelled
	}
}

func (b *Broker) Instruments(_ context.Context, currency string) ([]models.Instrument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Instrument, 0, len(b.instruments))
	for _, inst := range b.instruments {
		if currency == "" || strings.EqualFold(inst.BaseCurrency, currency) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Broker) Ticker(_ context.Context, instrument string) (models.Ticker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Tickers++
	t, ok := b.tickers[instrument]
	if !ok {
		return models.Ticker{}, errors.Wrapf(ErrNotFound, "ticker %s", instrument)
	}
	return t, nil
}

func (b *Broker) Greeks(_ context.Context, instrument string) (models.Greeks, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.GreeksErr != nil {
		return models.Greeks{}, b.GreeksErr
	}
	t, ok := b.tickers[instrument]
	if !ok {
		return models.Greeks{}, errors.Wrapf(ErrNotFound, "greeks %s", instrument)
	}
	return t.Greeks, nil
}

func (b *Broker) IndexPrice(_ context.Context, currency string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	px, ok := b.index[strings.ToUpper(currency)]
	if !ok {
		return 0, errors.Wrapf(ErrNotFound, "index %s", currency)
	}
	return px, nil
}

func (b *Broker) PlaceLimitOrder(_ context.Context, req models.OrderRequest) (models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.PlaceErr != nil {
		return models.Order{}, b.PlaceErr
	}
	if b.OnPlace != nil {
		if err := b.OnPlace(req); err != nil {
			return models.Order{}, err
		}
	}
	if _, ok := b.instruments[req.Instrument]; !ok {
		return models.Order{}, errors.Wrapf(ErrNotFound, "instrument %s", req.Instrument)
	}
	if req.Amount <= 0 || req.Price <= 0 {
		return models.Order{}, fmt.Errorf("paper: invalid order amount=%v price=%v", req.Amount, req.Price)
	}

	b.seq++
	o := &models.Order{
		ID:         fmt.Sprintf("paper-%d", b.seq),
		Instrument: req.Instrument,
		Direction:  req.Direction,
		Amount:     req.Amount,
		Price:      req.Price,
		State:      models.OrderOpen,
		Label:      req.Label,
	}
	b.orders[o.ID] = o
	b.Placed = append(b.Placed, req)
	b.tryFill(o)
	return *o, nil
}

func (b *Broker) AmendOrder(_ context.Context, orderID string, amount, price float64) (models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Amends = append(b.Amends, Amend{OrderID: orderID, Amount: amount, Price: price})
	if b.AmendErr != nil {
		return models.Order{}, b.AmendErr
	}
	o, ok := b.orders[orderID]
	if !ok {
		return models.Order{}, errors.Wrapf(ErrNotFound, "order %s", orderID)
	}
	if o.State != models.OrderOpen {
		return models.Order{}, fmt.Errorf("paper: order %s is %s", orderID, o.State)
	}
	// amount — остаток к исполнению
	o.Amount = o.FilledAmount + amount
	o.Price = price
	b.tryFill(o)
	return *o, nil
}

func (b *Broker) OrderState(_ context.Context, orderID string) (models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return models.Order{}, errors.Wrapf(ErrNotFound, "order %s", orderID)
	}
	return *o, nil
}

func (b *Broker) Positions(_ context.Context, currency string) ([]models.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.PositionsErr != nil {
		return nil, b.PositionsErr
	}
	out := make([]models.Position, 0, len(b.positions))
	for name, p := range b.positions {
		inst, ok := b.instruments[name]
		if ok && currency != "" && !strings.EqualFold(inst.BaseCurrency, currency) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentName < out[j].InstrumentName })
	return out, nil
}

func (b *Broker) OpenOrders(_ context.Context, currency string) ([]models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Order, 0)
	for _, o := range b.orders {
		if o.State != models.OrderOpen {
			continue
		}
		inst := b.instruments[o.Instrument]
		if currency != "" && !strings.EqualFold(inst.BaseCurrency, currency) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// tryFill вызывается под b.mu.
func (b *Broker) tryFill(o *models.Order) {
	if b.NeverFill || o.State != models.OrderOpen {
		return
	}
	t, ok := b.tickers[o.Instrument]
	if !ok || !t.Valid() {
		return
	}
	crosses := (o.Direction == models.Buy && o.Price >= t.Ask) ||
		(o.Direction == models.Sell && o.Price <= t.Bid)
	if !crosses {
		return
	}

	qty := o.Remaining()
	o.FilledAmount += qty
	o.AveragePrice = o.Price
	o.State = models.OrderFilled
	b.applyFill(o.Instrument, o.Direction, qty, o.Price)
}

func (b *Broker) applyFill(instrument string, dir models.Direction, qty, px float64) {
	signed := qty
	if dir == models.Sell {
		signed = -qty
	}

	p, ok := b.positions[instrument]
	if !ok {
		inst := b.instruments[instrument]
		t := b.tickers[instrument]
		p = &models.Position{
			InstrumentName: instrument,
			Kind:           inst.Kind,
			MarkPrice:      t.Mark,
			Delta:          t.Greeks.Delta,
			Gamma:          t.Greeks.Gamma,
			Theta:          t.Greeks.Theta,
			Vega:           t.Greeks.Vega,
		}
		b.positions[instrument] = p
	}

	prev := p.Size
	next := prev + signed
	switch {
	case prev == 0 || (prev > 0) == (signed > 0):
		total := abs(prev) + qty
		p.AveragePrice = (p.AveragePrice*abs(prev) + px*qty) / total
	case abs(signed) > abs(prev):
		p.AveragePrice = px
	}
	p.Size = next

	if abs(next) < 1e-12 {
		delete(b.positions, instrument)
		return
	}
	if next > 0 {
		p.Direction = models.Buy
	} else {
		p.Direction = models.Sell
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
