package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cycles_total", Help: "Evaluation cycles completed, by outcome"},
		[]string{"pair", "outcome"},
	)
	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentiment_records_total", Help: "Sentiment records collected per source"},
		[]string{"source"},
	)
	ClampedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "clamped_scores_total", Help: "Out-of-range sentiment scores clamped during aggregation"},
		[]string{"pair"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"pair", "side"},
	)
	VetoesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vetoes_total", Help: "Signals vetoed by the risk manager"},
		[]string{"pair", "reason"},
	)
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_retries_total", Help: "Order submission retries after transient exchange failures"},
		[]string{"pair"},
	)
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested by the price feed"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, RecordsTotal, ClampedTotal, OrdersTotal, VetoesTotal, RetriesTotal, TicksTotal)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
