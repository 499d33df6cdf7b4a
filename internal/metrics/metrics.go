package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the engine's prometheus collectors on a private
// registry so the /metrics endpoint only exposes our own series.
type Registry struct {
	TradesExecuted   *prometheus.CounterVec
	TradesFailed     *prometheus.CounterVec
	CycleDuration    *prometheus.HistogramVec
	QueueDepth       prometheus.Gauge
	ActivePortfolios prometheus.Gauge

	registry *prometheus.Registry
}

func NewRegistry() *Registry {
	m := &Registry{
		TradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_trades_executed_total",
			Help: "Trades executed, by reason.",
		}, []string{"reason"}),
		TradesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_trades_failed_total",
			Help: "Trades that reached a terminal failed status, by reason.",
		}, []string{"reason"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autopilot_cycle_duration_seconds",
			Help:    "Duration of engine cycles.",
			Buckets: prometheus.DefBuckets,
		}, []string{"cycle"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autopilot_trade_queue_depth",
			Help: "Orders currently waiting in the trade queue.",
		}),
		ActivePortfolios: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autopilot_active_portfolios",
			Help: "Portfolios under management with active status.",
		}),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.TradesExecuted,
		m.TradesFailed,
		m.CycleDuration,
		m.QueueDepth,
		m.ActivePortfolios,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records the elapsed time of one cycle run.
func (m *Registry) ObserveCycle(cycle string, start time.Time) {
	m.CycleDuration.WithLabelValues(cycle).Observe(time.Since(start).Seconds())
}
