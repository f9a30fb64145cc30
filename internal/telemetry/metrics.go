// Package telemetry provides observability primitives for the DeepSentinel gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	ActiveStreams    prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	TokensBilled     *prometheus.CounterVec
	CostAccumulated  prometheus.Counter
	BudgetRejects    prometheus.Counter
	BudgetBreaches   prometheus.Counter
	ProgressEmitted  prometheus.Counter
	ProgressDropped  prometheus.Counter
	PushSubscribers  prometheus.Gauge
	HistoryQueue     prometheus.Gauge
	HistoryDropped   prometheus.Counter
	SessionsPurged   prometheus.Counter
	PriceRefreshes   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepsentinel",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "deepsentinel",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deepsentinel",
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests.",
		}),

		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deepsentinel",
			Name:      "active_streams",
			Help:      "Number of currently open billed streams.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "deepsentinel",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream provider call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"family", "model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepsentinel",
			Name:      "upstream_errors_total",
			Help:      "Total upstream provider errors.",
		}, []string{"family", "status"}),

		TokensBilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepsentinel",
			Name:      "tokens_billed_total",
			Help:      "Total tokens charged against the budget.",
		}, []string{"model", "type"}),

		CostAccumulated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepsentinel",
			Name:      "cost_picounits_total",
			Help:      "Total cost charged, in picounits of display currency.",
		}),

		BudgetRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepsentinel",
			Name:      "budget_rejects_total",
			Help:      "Requests rejected by the admission precheck.",
		}),

		BudgetBreaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepsentinel",
			Name:      "budget_breaches_total",
			Help:      "Streams cut mid-flight by the circuit breaker.",
		}),

		ProgressEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepsentinel",
			Name:      "progress_events_total",
			Help:      "Progress events published to the push hub.",
		}),

		ProgressDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepsentinel",
			Name:      "progress_dropped_total",
			Help:      "Progress events dropped by full subscriber buffers.",
		}),

		PushSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deepsentinel",
			Name:      "push_subscribers",
			Help:      "Currently attached WebSocket subscribers.",
		}),

		HistoryQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deepsentinel",
			Name:      "history_queue_length",
			Help:      "Current number of queued history appends.",
		}),

		HistoryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepsentinel",
			Name:      "history_dropped_total",
			Help:      "History appends dropped because the queue was full.",
		}),

		SessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepsentinel",
			Name:      "sessions_purged_total",
			Help:      "Expired sessions removed by the sweeper.",
		}),

		PriceRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepsentinel",
			Name:      "price_refreshes_total",
			Help:      "Price feed refresh attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.ActiveStreams,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.TokensBilled,
		m.CostAccumulated,
		m.BudgetRejects,
		m.BudgetBreaches,
		m.ProgressEmitted,
		m.ProgressDropped,
		m.PushSubscribers,
		m.HistoryQueue,
		m.HistoryDropped,
		m.SessionsPurged,
		m.PriceRefreshes,
	)

	return m
}
