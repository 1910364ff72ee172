// Package broker описывает, что ядру нужно от биржи. Ответы биржи
// приводятся адаптером к каноническим записям из models.
package broker

import (
	"context"

	"option_bot/internal/models"
)

type MarketData interface {
	Instruments(ctx context.Context, currency string) ([]models.Instrument, error)
	Ticker(ctx context.Context, instrument string) (models.Ticker, error)
	Greeks(ctx context.Context, instrument string) (models.Greeks, error)
	IndexPrice(ctx context.Context, currency string) (float64, error)
}

type Trading interface {
	PlaceLimitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	AmendOrder(ctx context.Context, orderID string, amount, price float64) (models.Order, error)
	OrderState(ctx context.Context, orderID string) (models.Order, error)
	Positions(ctx context.Context, currency string) ([]models.Position, error)
	OpenOrders(ctx context.Context, currency string) ([]models.Order, error)
}

type Broker interface {
	MarketData
	Trading
}

// Factory создаёт сессию биржи под аккаунт.
type Factory interface {
	New(account models.Account) (Broker, error)
}

type FactoryFunc func(account models.Account) (Broker, error)

func (f FactoryFunc) New(account models.Account) (Broker, error) { return f(account) }
