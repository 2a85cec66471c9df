package monitor

import (
	"fmt"
	"time"

	"github.com/joao-brasil/resilient-db-pool/internal/metrics"
)

// healthWindow is the trailing window health scoring is computed over.
const healthWindow = time.Minute

// Status grades the overall database health.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// ConnectionMetrics is the rolling snapshot health scoring is derived from.
type ConnectionMetrics struct {
	QueryCount        int           `json:"query_count"`
	AvgLatency        time.Duration `json:"avg_latency"`
	ErrorRate         float64       `json:"error_rate"`
	SlowQueryCount    int           `json:"slow_query_count"`
	PoolUtilization   float64       `json:"pool_utilization"`
	ActiveConnections int           `json:"active_connections"`
}

// Health is the result of a health evaluation. Recomputed on demand,
// never persisted.
type Health struct {
	Status          Status            `json:"status"`
	Score           float64           `json:"score"`
	Metrics         ConnectionMetrics `json:"metrics"`
	Recommendations []string          `json:"recommendations"`
}

// ConnectionPoolMetrics returns the trailing-window snapshot without
// scoring it. This backs the admin dashboard's pool view.
func (m *Monitor) ConnectionPoolMetrics() ConnectionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windowMetrics()
}

// DatabaseHealth computes the trailing-window metrics, scores them 0-100
// and derives recommendations from whichever penalty terms fired.
//
// Penalties: errorRate*2, (slow/count)*30, (utilization-80)*2 above 80%
// utilization, and up to 20 points scaled from average latency above 50ms.
func (m *Monitor) DatabaseHealth() Health {
	m.mu.Lock()
	cm := m.windowMetrics()
	m.mu.Unlock()

	score := 100.0
	var recs []string

	if cm.ErrorRate > 0 {
		score -= cm.ErrorRate * 2
		recs = append(recs, fmt.Sprintf(
			"Error rate is %.1f%%; inspect recent failures and upstream database logs", cm.ErrorRate))
	}

	if cm.QueryCount > 0 && cm.SlowQueryCount > 0 {
		slowRatio := float64(cm.SlowQueryCount) / float64(cm.QueryCount)
		score -= slowRatio * 30
		recs = append(recs, fmt.Sprintf(
			"%d of %d queries were slow; review indexes and query plans",
			cm.SlowQueryCount, cm.QueryCount))
	}

	if cm.PoolUtilization > 80 {
		score -= (cm.PoolUtilization - 80) * 2
		recs = append(recs, fmt.Sprintf(
			"Pool utilization is %.0f%%; consider raising max_connections", cm.PoolUtilization))
	}

	if avgMs := float64(cm.AvgLatency) / float64(time.Millisecond); avgMs > 50 {
		penalty := (avgMs - 50) / 10
		if penalty > 20 {
			penalty = 20
		}
		score -= penalty
		recs = append(recs, fmt.Sprintf(
			"Average latency is %.0fms; optimize hot queries or add read replicas", avgMs))
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	status := StatusCritical
	switch {
	case score >= 80:
		status = StatusHealthy
	case score >= 60:
		status = StatusWarning
	}

	metrics.HealthScore.Set(score)

	return Health{
		Status:          status,
		Score:           score,
		Metrics:         cm,
		Recommendations: recs,
	}
}

// windowMetrics computes ConnectionMetrics over the trailing health window.
// Caller must hold m.mu.
func (m *Monitor) windowMetrics() ConnectionMetrics {
	recent := m.snapshotSince(time.Now().Add(-healthWindow))

	cm := ConnectionMetrics{QueryCount: len(recent)}

	var totalDur time.Duration
	failures := 0
	for _, mt := range recent {
		totalDur += mt.Duration
		if !mt.Success {
			failures++
		}
		if mt.Duration >= m.slowThreshold {
			cm.SlowQueryCount++
		}
	}
	if len(recent) > 0 {
		cm.AvgLatency = totalDur / time.Duration(len(recent))
		cm.ErrorRate = float64(failures) / float64(len(recent)) * 100
	}

	if m.poolStats != nil {
		ps := m.poolStats()
		cm.PoolUtilization = ps.Utilization
		cm.ActiveConnections = ps.ActiveConnections
	}

	return cm
}
