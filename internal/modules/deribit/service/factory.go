package service

import (
	"sync"
	"time"

	"option_bot/internal/broker"
	"option_bot/internal/models"
	"option_bot/pkg/clock"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Options struct {
	Kind      string // deribit | paper
	Transport string // http | ws
	URL       string
	TestURL   string
	WSURL     string
	TestWSURL string
	Timeout   time.Duration
}

// Factory создаёт биржевую сессию под аккаунт и помнит открытые
// соединения, чтобы закрыть их при остановке.
type Factory struct {
	opts  Options
	clock clock.Clock
	log   *zap.Logger

	mu      sync.Mutex
	clients []*Client
}

var _ broker.Factory = (*Factory)(nil)

func NewFactory(opts Options, c clock.Clock, log *zap.Logger) *Factory {
	return &Factory{opts: opts, clock: c, log: log.Named("deribit")}
}

func (f *Factory) New(acc models.Account) (broker.Broker, error) {
	switch f.opts.Kind {
	case "paper", "deribit", "":
	default:
		return nil, errors.Errorf("unknown broker kind %q", f.opts.Kind)
	}

	var tr Transport
	switch f.opts.Transport {
	case "ws":
		url := f.opts.WSURL
		if acc.Testnet {
			url = f.opts.TestWSURL
		}
		tr = NewWSTransport(url, f.log.With(zap.String("account", acc.Name)))
	default:
		url := f.opts.URL
		if acc.Testnet {
			url = f.opts.TestURL
		}
		tr = NewHTTPTransport(url, f.opts.Timeout)
	}

	c := NewClient(tr, acc.ClientID, acc.ClientSecret, f.clock, f.log.With(zap.String("account", acc.Name)))
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.mu.Unlock()

	if f.opts.Kind == "paper" {
		f.log.Warn("paper trading: orders are not sent to the exchange", zap.String("account", acc.Name))
		return NewPaperAdapter(NewAdapter(c)), nil
	}
	return NewAdapter(c), nil
}

func (f *Factory) Close() error {
	f.mu.Lock()
	clients := f.clients
	f.clients = nil
	f.mu.Unlock()

	var first error
	for _, c := range clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
