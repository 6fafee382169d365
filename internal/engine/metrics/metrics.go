package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FlowsStarted tracks transaction flows opened, per action and asset
	FlowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_flows_started_total",
			Help: "Total number of transaction flows started",
		},
		[]string{"action", "asset"},
	)

	// AmountUpdates tracks UpdateAmount calls per asset
	AmountUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_amount_updates_total",
			Help: "Total number of amount recomputations",
		},
		[]string{"asset"},
	)

	// ValidationFailures tracks non-executable validation outcomes
	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_validation_failures_total",
			Help: "Total number of validation failures by state",
		},
		[]string{"state"},
	)

	// ExecutesTotal tracks execute attempts and their outcome
	ExecutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_executes_total",
			Help: "Total number of execute calls",
		},
		[]string{"asset", "result"},
	)

	// QuoteRefreshes tracks quote repricing ticks per pair
	QuoteRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_quote_refreshes_total",
			Help: "Total number of quote refreshes",
		},
		[]string{"pair"},
	)

	// QuoteRefreshErrors tracks failed quote fetches per pair
	QuoteRefreshErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txengine_quote_refresh_errors_total",
			Help: "Total number of failed quote fetches",
		},
		[]string{"pair"},
	)

	// CollaboratorLatency tracks outbound collaborator call latency
	CollaboratorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txengine_collaborator_latency_seconds",
			Help:    "Latency of collaborator calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collaborator", "call"},
	)

	// DBConnectionPoolUsage tracks journal DB pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txengine_db_pool_usage_percent",
			Help: "Journal database connection pool usage",
		},
	)
)
