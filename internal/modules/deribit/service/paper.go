package service

import (
	"context"

	"option_bot/internal/broker"
	"option_bot/internal/broker/paper"
	"option_bot/internal/models"
)

var _ broker.Broker = (*PaperAdapter)(nil)

// PaperAdapter — сухой прогон на живом рынке: котировки и цепочка берутся
// из публичного API Deribit, ордера исполняет бумажная биржа.
type PaperAdapter struct {
	md    broker.MarketData
	paper *paper.Broker
}

func NewPaperAdapter(md broker.MarketData) *PaperAdapter {
	return &PaperAdapter{md: md, paper: paper.New()}
}

func (p *PaperAdapter) Instruments(ctx context.Context, currency string) ([]models.Instrument, error) {
	chain, err := p.md.Instruments(ctx, currency)
	if err != nil {
		return nil, err
	}
	known, _ := p.paper.Instruments(ctx, currency)
	have := make(map[string]bool, len(known))
	for _, inst := range known {
		have[inst.Name] = true
	}
	for _, inst := range chain {
		if !have[inst.Name] {
			p.paper.AddInstrument(inst, models.Ticker{})
		}
	}
	return chain, nil
}

func (p *PaperAdapter) Ticker(ctx context.Context, name string) (models.Ticker, error) {
	t, err := p.md.Ticker(ctx, name)
	if err != nil {
		return models.Ticker{}, err
	}
	p.paper.SetTicker(name, t)
	return t, nil
}

func (p *PaperAdapter) Greeks(ctx context.Context, name string) (models.Greeks, error) {
	t, err := p.Ticker(ctx, name)
	if err != nil {
		return models.Greeks{}, err
	}
	return t.Greeks, nil
}

func (p *PaperAdapter) IndexPrice(ctx context.Context, currency string) (float64, error) {
	return p.md.IndexPrice(ctx, currency)
}

func (p *PaperAdapter) PlaceLimitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	if _, err := p.Ticker(ctx, req.Instrument); err != nil {
		return models.Order{}, err
	}
	return p.paper.PlaceLimitOrder(ctx, req)
}

func (p *PaperAdapter) AmendOrder(ctx context.Context, orderID string, amount, price float64) (models.Order, error) {
	if o, err := p.paper.OrderState(ctx, orderID); err == nil {
		_, _ = p.Ticker(ctx, o.Instrument)
	}
	return p.paper.AmendOrder(ctx, orderID, amount, price)
}

func (p *PaperAdapter) OrderState(ctx context.Context, orderID string) (models.Order, error) {
	return p.paper.OrderState(ctx, orderID)
}

func (p *PaperAdapter) Positions(ctx context.Context, currency string) ([]models.Position, error) {
	return p.paper.Positions(ctx, currency)
}

func (p *PaperAdapter) OpenOrders(ctx context.Context, currency string) ([]models.Order, error) {
	return p.paper.OpenOrders(ctx, currency)
}
