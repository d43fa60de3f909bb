// Package metrics provides Prometheus metrics for the matching engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "contact_match"

var (
	// ScanJobsTotal counts finished scan jobs by final status.
	ScanJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "jobs_total",
			Help:      "Total number of scan jobs by final status",
		},
		[]string{"status", "mode"},
	)

	// ScanDuration tracks scan job duration in seconds.
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Duration of scan jobs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	// ScanRunning is 1 while a scan job runs in this process.
	ScanRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "running",
			Help:      "Number of scan jobs currently running in this process",
		},
	)

	// GroupsEvaluated counts cross-tenant groups evaluated by the scanner.
	GroupsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "groups_total",
			Help:      "Total number of cross-tenant groups by outcome",
		},
		[]string{"outcome"},
	)

	// CandidateScore tracks the score distribution of written candidates.
	CandidateScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "candidate_score",
			Help:      "Score of matching candidates written by a scan",
			Buckets:   []float64{50, 60, 70, 75, 80, 85, 90, 95, 100},
		},
	)

	// Resolutions counts company and publication resolutions by method.
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "finder",
			Name:      "resolutions_total",
			Help:      "Total number of entity resolutions by entity type and method",
		},
		[]string{"entity_type", "method"},
	)

	// CooccurrenceErrors counts failed co-occurrence queries in the publication finder.
	CooccurrenceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "finder",
			Name:      "cooccurrence_errors_total",
			Help:      "Total number of failed co-occurrence queries",
		},
	)

	// ConflictsTotal counts conflict review transitions.
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conflict",
			Name:      "reviews_total",
			Help:      "Total number of conflict review transitions by status and priority",
		},
		[]string{"status", "priority"},
	)

	// BreakerTransitions counts circuit breaker state changes.
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker transitions by backend and target state",
		},
		[]string{"backend", "state"},
	)

	// HTTPRequestsTotal tracks admin API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of admin API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks admin API request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of admin API requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
)
