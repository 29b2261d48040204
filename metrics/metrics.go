// Package metrics holds the Prometheus instruments of the scanner.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scan outcomes used as the "outcome" label.
const (
	OutcomeOK           = "ok"
	OutcomeFetchError   = "fetch_error"
	OutcomeExtractError = "extract_error"
	OutcomeStoreError   = "store_error"
)

// Metrics holds all scanner Prometheus metrics.
type Metrics struct {
	ScansTotal      *prometheus.CounterVec
	MatchesTotal    *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	InvalidPatterns prometheus.Counter
	BatchRuns       prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the metrics on reg. Passing a fresh prometheus.NewRegistry()
// keeps tests free of duplicate registration panics.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ScansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asinscan_scans_total",
			Help: "Scan attempts by outcome",
		}, []string{"outcome"}),

		MatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asinscan_matches_total",
			Help: "Persisted match records by source",
		}, []string{"source"}),

		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asinscan_fetch_duration_seconds",
			Help:    "Time to fetch one product page",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),

		InvalidPatterns: factory.NewCounter(prometheus.CounterOpts{
			Name: "asinscan_invalid_patterns_total",
			Help: "Patterns skipped because they failed to compile",
		}),

		BatchRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "asinscan_batch_runs_total",
			Help: "Completed batch runs",
		}),

		gatherer: reg,
	}
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
