// Package metrics provides Prometheus metrics for the front end.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Form names used as label values.
const (
	FormJudgments = "judgments"
	FormOCR       = "ocr"
)

// Submission outcomes used as label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeBusy    = "busy"
)

var (
	// SubmissionsTotal counts form submissions that reached the remote API
	// or were turned away because one was already in flight.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontend_submissions_total",
			Help: "Total number of form submissions by outcome",
		},
		[]string{"form", "outcome"},
	)

	// ValidationFailures counts submissions rejected before any network call.
	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontend_validation_failures_total",
			Help: "Total number of submissions rejected by form validation",
		},
		[]string{"form"},
	)

	// BackendRequestDuration tracks remote API latency.
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frontend_backend_request_duration_seconds",
			Help:    "Time taken by remote API calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"endpoint", "status"},
	)

	// SessionsActive is the number of live form sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frontend_sessions_active",
			Help: "Number of live form sessions",
		},
	)

	// StagedFiles is the number of files held in the staging directory.
	StagedFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frontend_staged_files",
			Help: "Number of selected files currently staged",
		},
	)
)

// RecordSubmission increments the submission counter.
func RecordSubmission(form, outcome string) {
	SubmissionsTotal.WithLabelValues(form, outcome).Inc()
}

// RecordValidationFailure increments the validation failure counter.
func RecordValidationFailure(form string) {
	ValidationFailures.WithLabelValues(form).Inc()
}
