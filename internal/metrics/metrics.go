package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	OrderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_failures_total", Help: "Orders rejected or failed at the venue"},
		[]string{"symbol", "side"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Non-hold signals emitted by the decision logic"},
		[]string{"symbol", "signal"},
	)
	ReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reconnects_total", Help: "Stream reconnects by cause"},
		[]string{"symbol", "reason"},
	)
	SideEffectErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "side_effect_errors_total", Help: "Failed sink writes"},
		[]string{"sink"},
	)
	NetWorth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "net_worth", Help: "Ledger net worth marked at the last price"},
		[]string{"symbol"},
	)
	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "session_state", Help: "Session controller state (0 connecting, 1 streaming, 2 reconnecting, 3 shutdown)"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		OrdersTotal,
		OrderFailuresTotal,
		SignalsTotal,
		ReconnectsTotal,
		SideEffectErrorsTotal,
		NetWorth,
		SessionState,
	)
}

// Serve exposes /metrics on addr in the background. An empty addr disables it.
func Serve(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
