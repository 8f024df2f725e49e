package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wiki_api_requests_total",
			Help: "Requests sent to the character listing service, by outcome",
		},
		[]string{"outcome"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wiki_api_request_duration_seconds",
			Help:    "Duration of requests to the character listing service",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	PageMerges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wiki_page_merges_total",
			Help: "Pages applied to accumulators, by merge mode (reset, append, superseded)",
		},
		[]string{"mode"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wiki_active_sessions",
			Help: "Browsing sessions currently held in memory",
		},
	)

	ArchivedCharacters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wiki_archived_characters_total",
			Help: "Characters written to the archive, by result",
		},
		[]string{"result"},
	)
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Merge mode labels.
const (
	MergeReset      = "reset"
	MergeAppend     = "append"
	MergeSuperseded = "superseded"
)

// ObserveAPIRequest records one attempt against the listing service.
func ObserveAPIRequest(outcome string, started time.Time) {
	APIRequests.WithLabelValues(outcome).Inc()
	APIRequestDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}
