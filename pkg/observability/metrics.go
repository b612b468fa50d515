package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// measurement store and the query API.
type Metrics struct {
	RowsIngested prometheus.Counter
	RowsSkipped  prometheus.Counter
	StoreReady   prometheus.Gauge

	// API metrics.
	APIRequests   *prometheus.CounterVec   // labels: endpoint={stats,history,energy}, outcome={ok,no_data,bad_request,error}
	QueryDuration *prometheus.HistogramVec // labels: endpoint={stats,history,energy}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RowsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nocturna",
			Name:      "rows_ingested_total",
			Help:      "Total measurement rows accepted into the store.",
		}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nocturna",
			Name:      "rows_skipped_total",
			Help:      "Total source rows rejected or deduplicated during ingest.",
		}),
		StoreReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nocturna",
			Name:      "store_ready",
			Help:      "1 when the measurement store is open and schema-initialized, 0 otherwise.",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nocturna",
			Name:      "api_requests_total",
			Help:      "API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nocturna",
			Name:      "query_duration_seconds",
			Help:      "End-to-end duration of a spatial query, including the store round trip.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"endpoint"}),
	}

	prometheus.MustRegister(
		m.RowsIngested,
		m.RowsSkipped,
		m.StoreReady,
		m.APIRequests,
		m.QueryDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RowsIngested:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "nocturna", Name: "rows_ingested_total"}),
		RowsSkipped:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "nocturna", Name: "rows_skipped_total"}),
		StoreReady:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "nocturna", Name: "store_ready"}),
		APIRequests:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "nocturna", Name: "api_requests_total"}, []string{"endpoint", "outcome"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "nocturna", Name: "query_duration_seconds"}, []string{"endpoint"}),
	}
}
