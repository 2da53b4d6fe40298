package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DBQueriesTotal counts executor calls by operation and final outcome
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bracket_db_queries_total",
			Help: "Total number of datastore operations",
		},
		[]string{"op", "outcome"},
	)

	// DBRetriesTotal counts retry attempts scheduled after a failure
	DBRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bracket_db_retries_total",
			Help: "Total number of datastore retries",
		},
		[]string{"op", "kind"},
	)

	// DBRecoveredTotal counts operations that succeeded after at least one failure
	DBRecoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bracket_db_recovered_total",
			Help: "Total number of datastore operations that succeeded after a retry",
		},
		[]string{"op"},
	)

	// DBErrorsTotal counts surfaced errors by taxonomy kind
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bracket_db_errors_total",
			Help: "Total number of datastore errors surfaced to callers",
		},
		[]string{"kind"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bracket_db_query_duration_seconds",
			Help:    "Datastore operation latency in seconds, including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// DBDegraded is 1 while the datastore is considered unavailable
	DBDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bracket_db_degraded",
			Help: "Whether the service is running in degraded mode",
		},
	)

	MatchesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bracket_matches_completed_total",
			Help: "Total number of matches with a recorded winner",
		},
	)

	TournamentsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bracket_tournaments_completed_total",
			Help: "Total number of tournaments whose final has a winner",
		},
	)
)
