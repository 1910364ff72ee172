package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"option_bot/internal/engine/lifecycle"
	"option_bot/internal/metrics"
	deltastore "option_bot/internal/modules/deltastore/service"
	"option_bot/internal/runner/sessions"
	"option_bot/pkg/clock"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	loopPositions = "positions"
	loopOrders    = "orders"
)

type Config struct {
	PositionInterval       time.Duration
	OrderInterval          time.Duration
	InterPositionDelay     time.Duration
	MaxConsecutiveFailures int
	ROIThreshold           float64
	StartupBurst           bool
}

func DefaultConfig() Config {
	return Config{
		PositionInterval:       15 * time.Minute,
		OrderInterval:          5 * time.Minute,
		InterPositionDelay:     2 * time.Second,
		MaxConsecutiveFailures: 5,
		ROIThreshold:           0.85,
		StartupBurst:           true,
	}
}

// LoopStatus — для /healthz.
type LoopStatus struct {
	LastPass            time.Time `json:"last_pass"`
	ConsecutiveFailures int32     `json:"consecutive_failures"`
	Stopped             bool      `json:"stopped"`
}

type loopState struct {
	lastPass atomic.Int64
	failures atomic.Int32
	stopped  atomic.Bool
}

// Monitor крутит опрос позиций и ордеров в фоне.
type Monitor struct {
	cfg       Config
	sessions  *sessions.Registry
	lifecycle *lifecycle.Manager
	store     deltastore.Store
	clock     clock.Clock
	log       *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group

	loops map[string]*loopState
}

func NewMonitor(cfg Config, reg *sessions.Registry, lm *lifecycle.Manager, store deltastore.Store, c clock.Clock, log *zap.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = def.PositionInterval
	}
	if cfg.OrderInterval <= 0 {
		cfg.OrderInterval = def.OrderInterval
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if cfg.ROIThreshold <= 0 {
		cfg.ROIThreshold = def.ROIThreshold
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		cfg:       cfg,
		sessions:  reg,
		lifecycle: lm,
		store:     store,
		clock:     c,
		log:       log.Named("monitor"),
		loops: map[string]*loopState{
			loopPositions: {},
			loopOrders:    {},
		},
	}
}

// Start запускает стартовый проход и оба цикла. Повторный вызов — no-op.
func (m *Monitor) Start(parent context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	m.cancel, m.group = cancel, g

	if m.cfg.StartupBurst {
		g.Go(func() error {
			m.runPass(gctx, loopPositions, m.PositionPass)
			m.runPass(gctx, loopOrders, m.OrderPass)
			return nil
		})
	}
	g.Go(func() error { return m.loop(gctx, loopPositions, m.cfg.PositionInterval, m.PositionPass) })
	g.Go(func() error { return m.loop(gctx, loopOrders, m.cfg.OrderInterval, m.OrderPass) })

	m.log.Info("monitor started",
		zap.Duration("positions_every", m.cfg.PositionInterval),
		zap.Duration("orders_every", m.cfg.OrderInterval))
}

// Stop отменяет циклы и ждёт их завершения.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	cancel, g := m.cancel, m.group
	m.cancel, m.group = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return g.Wait()
}

func (m *Monitor) Status() map[string]LoopStatus {
	out := make(map[string]LoopStatus, len(m.loops))
	for name, st := range m.loops {
		s := LoopStatus{
			ConsecutiveFailures: st.failures.Load(),
			Stopped:             st.stopped.Load(),
		}
		if u := st.lastPass.Load(); u != 0 {
			s.LastPass = time.Unix(0, u)
		}
		out[name] = s
	}
	return out
}

func (m *Monitor) loop(ctx context.Context, name string, every time.Duration, pass func(context.Context) error) error {
	t := m.clock.NewTicker(every)
	defer t.Stop()

	st := m.loops[name]
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			m.runPass(ctx, name, pass)
			if int(st.failures.Load()) > m.cfg.MaxConsecutiveFailures {
				st.stopped.Store(true)
				m.log.Error("too many consecutive failures, loop stopped",
					zap.String("loop", name), zap.Int32("failures", st.failures.Load()))
				return nil
			}
		}
	}
}

// runPass — один проход; паника считается провалом прохода.
func (m *Monitor) runPass(ctx context.Context, name string, pass func(context.Context) error) {
	st := m.loops[name]
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				m.log.Error("panic in pass", zap.String("loop", name), zap.Any("panic", p), zap.Stack("stack"))
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return pass(ctx)
	}()

	st.lastPass.Store(m.clock.Now().UnixNano())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		n := st.failures.Add(1)
		metrics.PollPasses.WithLabelValues(name, "failed").Inc()
		m.log.Warn("pass failed", zap.String("loop", name), zap.Int32("consecutive", n), zap.Error(err))
		return
	}
	st.failures.Store(0)
	metrics.PollPasses.WithLabelValues(name, "ok").Inc()
}
