// Package metrics — счётчики Prometheus. Регистрируются в init и
// отдаются health-модулем на /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optbot_signals_total",
			Help: "Signals processed by action and outcome",
		},
		[]string{"action", "result"}, // result: ok|failed
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optbot_orders_total",
			Help: "Limit orders placed by execution strategy and side",
		},
		[]string{"strategy", "side"},
	)

	Reprices = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optbot_reprices_total",
			Help: "Progressive order amendments",
		},
		[]string{"kind"}, // step|final
	)

	Rolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optbot_rolls_total",
			Help: "Roll sagas by terminal state",
		},
		[]string{"state"},
	)

	PollPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optbot_poll_passes_total",
			Help: "Polling passes by loop and outcome",
		},
		[]string{"loop", "result"},
	)
)

func init() {
	prometheus.MustRegister(Signals, Orders, Reprices, Rolls, PollPasses)
}
