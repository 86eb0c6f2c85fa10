// Package observability holds the service-wide Prometheus collectors.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Submission outcomes.
const (
	OutcomeStored = "stored"
	OutcomeError  = "error"
)

var (
	submissionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "couples_service",
		Subsystem: "activities",
		Name:      "submissions_total",
		Help:      "Submissions merged into activity records, labeled by activity type and outcome.",
	}, []string{"activity_type", "outcome"})

	completionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "couples_service",
		Subsystem: "activities",
		Name:      "completions_total",
		Help:      "Activity records that transitioned to both-completed.",
	}, []string{"activity_type"})

	recordPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "couples_service",
		Subsystem: "persistence",
		Name:      "last_record_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity record write.",
	})
)

func init() {
	prometheus.MustRegister(submissionsCounter, completionsCounter, recordPersistGauge)
}

// RecordSubmission counts a submission attempt.
func RecordSubmission(activityType, outcome string) {
	submissionsCounter.WithLabelValues(activityType, outcome).Inc()
}

// RecordCompletion counts a record reaching both-completed.
func RecordCompletion(activityType string) {
	completionsCounter.WithLabelValues(activityType).Inc()
}

// RecordPersisted updates the persistence watermark gauge.
func RecordPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	recordPersistGauge.Set(float64(ts.Unix()))
}

// SubmissionCount exposes the counter child for tests.
func SubmissionCount(activityType, outcome string) prometheus.Counter {
	return submissionsCounter.WithLabelValues(activityType, outcome)
}

// CompletionCount exposes the counter child for tests.
func CompletionCount(activityType string) prometheus.Counter {
	return completionsCounter.WithLabelValues(activityType)
}
