package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Quote acquisition
	QuoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_quote_requests_total",
		Help: "Quote requests per provider and outcome",
	}, []string{"provider", "outcome"})

	QuoteFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_quote_fallbacks_total",
		Help: "Times a leg fell through to the given provider",
	}, []string{"provider"})

	// Lookup tables
	LookupTableCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_lookup_table_cache_total",
		Help: "Lookup-table resolutions by result (hit, miss, error)",
	}, []string{"result"})

	// Simulation
	Simulations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_simulations_total",
		Help: "Dry runs by outcome (ok, reverted, error)",
	}, []string{"outcome"})

	SimulatedComputeUnits = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "executor_simulated_compute_units",
		Help:    "Compute units consumed by successful dry runs",
		Buckets: prometheus.ExponentialBuckets(10_000, 2, 8),
	})

	// Submission and confirmation
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_submissions_total",
		Help: "Relay submissions by mode and outcome",
	}, []string{"mode", "outcome"})

	BundleStatuses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_bundle_status_total",
		Help: "Terminal bundle statuses observed by the poller",
	}, []string{"status"})

	ConfirmationTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "executor_confirmation_timeouts_total",
		Help: "Polls that reached the timeout without a terminal status",
	})

	// Orchestration
	Rounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "executor_rounds_total",
		Help: "Orchestration rounds run",
	})

	LegOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_leg_outcomes_total",
		Help: "Leg outcomes per round by stage and status",
	}, []string{"stage", "status"})

	RoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "executor_round_duration_seconds",
		Help:    "Wall time of one orchestration round",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_executions_total",
		Help: "Finished executions by result (success, partial, rejected)",
	}, []string{"result"})
)
