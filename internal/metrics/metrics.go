// Package metrics defines the Prometheus metrics for the database access layer.
// All collectors are registered upfront via promauto so that every component
// can use them without touching this file.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks connections currently in use, per role.
	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dbpool_connections_active",
		Help: "Number of connections currently in use",
	}, []string{"role"})

	// ConnectionsIdle tracks idle connections available for reuse, per role.
	ConnectionsIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dbpool_connections_idle",
		Help: "Number of idle connections in the pool",
	}, []string{"role"})

	// ConnectionsMax tracks the configured maximum pool size.
	ConnectionsMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dbpool_connections_max",
		Help: "Configured maximum number of connections",
	})

	// AcquisitionsTotal counts acquisition attempts by role and outcome.
	AcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbpool_acquisitions_total",
		Help: "Total connection acquisition attempts",
	}, []string{"role", "status"})

	// QueueLength tracks the current acquisition queue depth per role.
	QueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dbpool_queue_length",
		Help: "Number of requests waiting for a connection",
	}, []string{"role"})

	// QueueWaitDuration tracks the time requests spend waiting for a connection.
	QueueWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dbpool_queue_wait_seconds",
		Help:    "Time spent waiting for a connection",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"role"})

	// QueryDuration tracks query execution time by role.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dbpool_query_duration_seconds",
		Help:    "Query execution duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"role"})

	// QueriesTotal counts recorded queries by outcome.
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbpool_queries_total",
		Help: "Total recorded queries",
	}, []string{"status"})

	// SlowQueriesTotal counts queries exceeding the slow and critical thresholds.
	SlowQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbpool_slow_queries_total",
		Help: "Total queries exceeding latency thresholds",
	}, []string{"severity"})

	// ConnectionErrors counts connection-level errors by role and type.
	ConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbpool_connection_errors_total",
		Help: "Total connection errors",
	}, []string{"role", "error_type"})

	// BreakerState reports the circuit breaker state per role
	// (0 = closed, 1 = open, 2 = half_open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dbpool_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"role"})

	// BreakerFastFails counts requests rejected by an open circuit breaker.
	BreakerFastFails = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbpool_breaker_fast_fails_total",
		Help: "Total requests rejected while the circuit breaker was open",
	}, []string{"role"})

	// HealthScore reports the last computed database health score.
	HealthScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dbpool_health_score",
		Help: "Database health score (0-100)",
	})

	// CacheOperations counts cache lookups by result.
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbpool_cache_operations_total",
		Help: "Total cache lookups",
	}, []string{"result"})
)
