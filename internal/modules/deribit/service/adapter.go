package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"option_bot/internal/broker"
	"option_bot/internal/models"

	"github.com/pkg/errors"
)

var _ broker.Broker = (*Adapter)(nil)

// Adapter переводит ответы Deribit в канонические записи models.
type Adapter struct {
	c *Client
}

func NewAdapter(c *Client) *Adapter { return &Adapter{c: c} }

func (a *Adapter) Close() error { return a.c.Close() }

func (a *Adapter) Instruments(ctx context.Context, currency string) ([]models.Instrument, error) {
	var raw []instrument
	err := a.c.Call(ctx, "public/get_instruments", map[string]any{
		"currency": strings.ToUpper(currency),
		"kind":     "option",
		"expired":  false,
	}, &raw)
	if err != nil {
		return nil, err
	}

	out := make([]models.Instrument, 0, len(raw))
	for _, r := range raw {
		out = append(out, toInstrument(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (a *Adapter) Ticker(ctx context.Context, name string) (models.Ticker, error) {
	var t ticker
	if err := a.c.Call(ctx, "public/ticker", map[string]any{"instrument_name": name}, &t); err != nil {
		return models.Ticker{}, err
	}
	return models.Ticker{
		Instrument:      t.InstrumentName,
		Bid:             t.BestBidPrice,
		Ask:             t.BestAskPrice,
		Mark:            t.MarkPrice,
		Volume:          t.Stats.Volume,
		OpenInterest:    t.OpenInterest,
		UnderlyingPrice: t.UnderlyingPrice,
		Greeks:          models.Greeks(t.Greeks),
	}, nil
}

func (a *Adapter) Greeks(ctx context.Context, name string) (models.Greeks, error) {
	t, err := a.Ticker(ctx, name)
	if err != nil {
		return models.Greeks{}, err
	}
	return t.Greeks, nil
}

func (a *Adapter) IndexPrice(ctx context.Context, currency string) (float64, error) {
	var res indexPrice
	err := a.c.Call(ctx, "public/get_index_price", map[string]any{
		"index_name": strings.ToLower(currency) + "_usd",
	}, &res)
	if err != nil {
		return 0, err
	}
	if res.IndexPrice <= 0 {
		return 0, errors.Errorf("deribit: empty index price for %s", currency)
	}
	return res.IndexPrice, nil
}

func (a *Adapter) PlaceLimitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	method := "private/buy"
	if req.Direction == models.Sell {
		method = "private/sell"
	}
	params := map[string]any{
		"instrument_name": req.Instrument,
		"amount":          req.Amount,
		"type":            "limit",
		"price":           req.Price,
	}
	if req.Label != "" {
		params["label"] = req.Label
	}
	if req.ReduceOnly {
		params["reduce_only"] = true
	}

	var res orderResult
	if err := a.c.Call(ctx, method, params, &res); err != nil {
		return models.Order{}, err
	}
	return toOrder(res.Order), nil
}

// AmendOrder: amount — остаток к исполнению, а private/edit ждёт полный
// объём заявки, поэтому сначала читаем уже исполненное.
func (a *Adapter) AmendOrder(ctx context.Context, orderID string, amount, price float64) (models.Order, error) {
	cur, err := a.OrderState(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}

	var res orderResult
	err = a.c.Call(ctx, "private/edit", map[string]any{
		"order_id": orderID,
		"amount":   cur.FilledAmount + amount,
		"price":    price,
	}, &res)
	if err != nil {
		return models.Order{}, err
	}
	return toOrder(res.Order), nil
}

func (a *Adapter) OrderState(ctx context.Context, orderID string) (models.Order, error) {
	var o order
	if err := a.c.Call(ctx, "private/get_order_state", map[string]any{"order_id": orderID}, &o); err != nil {
		return models.Order{}, err
	}
	return toOrder(o), nil
}

func (a *Adapter) Positions(ctx context.Context, currency string) ([]models.Position, error) {
	var raw []position
	err := a.c.Call(ctx, "private/get_positions", map[string]any{
		"currency": strings.ToUpper(currency),
		"kind":     "option",
	}, &raw)
	if err != nil {
		return nil, err
	}

	out := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		if p.Size == 0 || p.Direction == "zero" {
			continue
		}
		out = append(out, toPosition(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentName < out[j].InstrumentName })
	return out, nil
}

func (a *Adapter) OpenOrders(ctx context.Context, currency string) ([]models.Order, error) {
	var raw []order
	err := a.c.Call(ctx, "private/get_open_orders_by_currency", map[string]any{
		"currency": strings.ToUpper(currency),
		"kind":     "option",
	}, &raw)
	if err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(raw))
	for _, o := range raw {
		out = append(out, toOrder(o))
	}
	return out, nil
}

func toInstrument(r instrument) models.Instrument {
	kind := models.KindOption
	if r.Kind == "future" {
		kind = models.KindFuture
	}
	return models.Instrument{
		Name:           r.InstrumentName,
		Kind:           kind,
		OptionType:     models.OptionType(r.OptionType),
		Strike:         r.Strike,
		Expiry:         time.UnixMilli(r.ExpirationTimestamp).UTC(),
		TickSize:       r.TickSize,
		MinTradeAmount: r.MinTradeAmount,
		ContractSize:   r.ContractSize,
		BaseCurrency:   r.BaseCurrency,
		// инверсные опционы: премия и расчёты в BTC/ETH
		QuoteInBase: r.SettlementCurrency != "" && strings.EqualFold(r.SettlementCurrency, r.BaseCurrency),
	}
}

func toOrder(o order) models.Order {
	return models.Order{
		ID:           o.OrderID,
		Instrument:   o.InstrumentName,
		Direction:    models.Direction(o.Direction),
		Amount:       o.Amount,
		Price:        o.Price,
		State:        models.OrderState(o.OrderState),
		FilledAmount: o.FilledAmount,
		AveragePrice: o.AveragePrice,
		Label:        o.Label,
	}
}

func toPosition(p position) models.Position {
	size := p.Size
	if p.Direction == "sell" && size > 0 {
		size = -size
	}
	kind := models.KindOption
	if p.Kind == "future" {
		kind = models.KindFuture
	}
	return models.Position{
		InstrumentName: p.InstrumentName,
		Kind:           kind,
		Size:           size,
		Direction:      models.Direction(p.Direction),
		AveragePrice:   p.AveragePrice,
		MarkPrice:      p.MarkPrice,
		Delta:          p.Delta,
		Gamma:          p.Gamma,
		Theta:          p.Theta,
		Vega:           p.Vega,
		UnrealizedPnL:  p.FloatingProfitLoss,
	}
}
