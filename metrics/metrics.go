// Package metrics provides Prometheus metrics for go-wikiapi.
// It tracks API calls, maxlag retries, edits and batch work.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const Namespace = "wikiapi"

var (
	// APIRequestsTotal counts API calls by action, HTTP method and status
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_requests_total",
		Help:      "Total MediaWiki API requests by action, method and status",
	}, []string{"action", "method", "status"})

	// APIRequestDuration measures API call latency
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "api_request_duration_seconds",
		Help:      "MediaWiki API request latency by action",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"action"})

	// APIErrors counts API errors by error code
	APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_errors_total",
		Help:      "MediaWiki API errors by action and error code",
	}, []string{"action", "code"})

	// MaxlagRetries counts requests retried because of replication lag
	MaxlagRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "maxlag_retries_total",
		Help:      "Requests retried because the server reported too much lag",
	})

	// EditOperations counts write operations by type and outcome
	EditOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "edit_operations_total",
		Help:      "Write operations by type and outcome",
	}, []string{"operation", "outcome"})

	// PagesProcessed counts pages handed to a for-each-page processor
	PagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "pages_processed_total",
		Help:      "Pages processed by batch work, by outcome",
	}, []string{"outcome"})

	// ContentSize tracks sizes of page content sent in edits
	ContentSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "edit_content_size_bytes",
		Help:      "Edit content size distribution in bytes",
		Buckets:   []float64{100, 1000, 10000, 50000, 100000, 250000, 500000, 1000000},
	})
)

// RecordAPICall records a completed API call. code is the API error
// code, empty when the call succeeded.
func RecordAPICall(action, method string, duration float64, success bool, code string) {
	status := "success"
	if !success {
		status = "error"
	}
	if action == "" {
		action = "unknown"
	}
	APIRequestsTotal.WithLabelValues(action, method, status).Inc()
	APIRequestDuration.WithLabelValues(action).Observe(duration)
	if code != "" {
		APIErrors.WithLabelValues(action, code).Inc()
	}
}

// RecordEdit records the outcome of a write operation such as
// "edit", "move", "upload" or "delete".
func RecordEdit(operation, outcome string) {
	EditOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordPage records one page handled by batch work.
func RecordPage(outcome string) {
	PagesProcessed.WithLabelValues(outcome).Inc()
}
