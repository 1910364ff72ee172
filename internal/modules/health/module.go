package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"option_bot/internal/modules/config"
	"option_bot/internal/modules/health/service"
	"option_bot/internal/runner"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config — адрес админского порта.
type Config struct {
	Addr string
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.AdminPort)}
}

// LoopReporter — состояние циклов опроса.
type LoopReporter interface {
	Status() map[string]runner.LoopStatus
}

type report struct {
	Ready          bool                         `json:"ready"`
	Degraded       bool                         `json:"degraded"`
	UptimeSec      int64                        `json:"uptimeSec"`
	LastSignalUnix int64                        `json:"lastSignalUnix"`
	Loops          map[string]runner.LoopStatus `json:"loops"`
}

type handlers struct {
	state *service.State
	loops LoopReporter
}

func (h handlers) live(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (h handlers) ready(w http.ResponseWriter, _ *http.Request) {
	if !h.state.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready"))
}

// health: degraded, если хоть один цикл опроса остановлен по сбоям.
func (h handlers) health(w http.ResponseWriter, _ *http.Request) {
	rep := report{
		Ready:     h.state.Ready(),
		UptimeSec: int64(h.state.Uptime() / time.Second),
		Loops:     h.loops.Status(),
	}
	if t := h.state.LastSignal(); !t.IsZero() {
		rep.LastSignalUnix = t.Unix()
	}
	for _, s := range rep.Loops {
		rep.Degraded = rep.Degraded || s.Stopped
	}

	data, err := sonic.Marshal(rep)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func NewMux(state *service.State, loops LoopReporter) *http.ServeMux {
	h := handlers{state: state, loops: loops}

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", h.live)
	mux.HandleFunc("/readyz", h.ready)
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, state *service.State, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log = log.Named("health")

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return fmt.Errorf("health listen %s: %w", cfg.Addr, err)
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					log.Error("health server stopped", zap.Error(err))
				}
			}()
			// модуль подключается последним: всё остальное уже стартовало
			state.SetReady(true)
			log.Info("listening", zap.String("addr", cfg.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			state.SetReady(false)
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewConfig,
			NewMux,
			func(m *runner.Monitor) LoopReporter { return m },
		),
		fx.Invoke(RunHTTP),
	)
}
