// Package metrics provides Prometheus metrics for the dispatch service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchTransitionsTotal counts applied status changes
	MatchTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "matches",
			Name:      "transitions_total",
			Help:      "Total number of match status transitions",
		},
		[]string{"from", "to"},
	)

	MatchCandidatesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "matches",
			Name:      "candidates_created_total",
			Help:      "Total number of match candidates created from postings",
		},
	)

	// MatchesByStatus mirrors the count projection after each refresh
	MatchesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sage",
			Subsystem: "matches",
			Name:      "by_status",
			Help:      "Current number of matches by tenant and status",
		},
		[]string{"tenant_id", "status"},
	)

	SweepExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "matches",
			Name:      "swept_expired_total",
			Help:      "Total number of matches moved to missed by the expiry sweep",
		},
	)

	// BookingsTotal tracks booking outcomes
	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "booking",
			Name:      "total",
			Help:      "Total number of booking attempts by outcome",
		},
		[]string{"outcome"},
	)

	BookingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sage",
			Subsystem: "booking",
			Name:      "duration_seconds",
			Help:      "Duration of booking saga runs in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	SequenceConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "booking",
			Name:      "sequence_conflicts_total",
			Help:      "Total number of load number collisions retried",
		},
	)

	InvoiceReversalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "invoices",
			Name:      "reversals_total",
			Help:      "Total number of invoice reversal attempts by outcome",
		},
		[]string{"outcome"},
	)

	// AuditWriteFailuresTotal counts audit entries that could not be written
	AuditWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Total number of failed audit log writes",
		},
		[]string{"entity_type"},
	)

	PostingsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "postings",
			Name:      "ingested_total",
			Help:      "Total number of postings ingested by result",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal tracks inbound API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sage",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sage",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
)
