package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/resilient-db-pool/internal/config"
)

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		SlowQueryThreshold:     100 * time.Millisecond,
		CriticalQueryThreshold: 500 * time.Millisecond,
		MaxHistory:             1000,
		Retention:              time.Hour,
		CleanupInterval:        time.Hour,
	}
}

func newTestMonitor(t *testing.T, cfg config.MonitorConfig) *Monitor {
	t.Helper()
	m := New(cfg)
	t.Cleanup(m.Close)
	return m
}

func TestRecordQueryCounters(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())

	for i := 0; i < 3; i++ {
		m.RecordQuery("fast", 10*time.Millisecond, true, 1, "")
	}
	m.RecordQuery("broken", 10*time.Millisecond, false, 0, "deadlock")
	m.RecordQuery("slowish", 150*time.Millisecond, true, 1, "")
	m.RecordQuery("awful", 600*time.Millisecond, true, 1, "")

	total, success, failed, slow, critical := m.Totals()
	assert.Equal(t, uint64(6), total)
	assert.Equal(t, uint64(5), success)
	assert.Equal(t, uint64(1), failed)
	// The critical query is counted in both buckets.
	assert.Equal(t, uint64(2), slow)
	assert.Equal(t, uint64(1), critical)
}

func TestHistoryCapDropsOldest(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.MaxHistory = 5
	m := newTestMonitor(t, cfg)

	for i := 0; i < 8; i++ {
		m.RecordQuery("q", time.Duration(i)*time.Millisecond, true, 0, "")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.history, 5)
	assert.Equal(t, 3*time.Millisecond, m.history[0].Duration, "oldest entries must be discarded first")
}

func TestPruneDropsEntriesPastRetention(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())

	for i := 0; i < 3; i++ {
		m.RecordQuery("q", time.Millisecond, true, 0, "")
	}
	m.mu.Lock()
	m.history[0].Timestamp = time.Now().Add(-2 * time.Hour)
	m.history[1].Timestamp = time.Now().Add(-90 * time.Minute)
	m.mu.Unlock()

	m.prune()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.history, 1)
}

func TestHealthPerfectScore(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())

	for i := 0; i < 10; i++ {
		m.RecordQuery("fast", 10*time.Millisecond, true, 1, "")
	}

	h := m.DatabaseHealth()
	assert.Equal(t, StatusHealthy, h.Status)
	assert.InDelta(t, 100, h.Score, 0.01)
	assert.Empty(t, h.Recommendations)
	assert.Equal(t, 10, h.Metrics.QueryCount)
}

func TestHealthErrorRatePenalty(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())

	for i := 0; i < 7; i++ {
		m.RecordQuery("q", 10*time.Millisecond, true, 1, "")
	}
	for i := 0; i < 3; i++ {
		m.RecordQuery("q", 10*time.Millisecond, false, 0, "timeout")
	}

	// 30% error rate costs 60 points.
	h := m.DatabaseHealth()
	assert.InDelta(t, 40, h.Score, 0.01)
	assert.Equal(t, StatusCritical, h.Status)
	assert.NotEmpty(t, h.Recommendations)
	assert.InDelta(t, 30, h.Metrics.ErrorRate, 0.01)
}

func TestHealthSlowQueryPenalty(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())

	for i := 0; i < 8; i++ {
		m.RecordQuery("q", 10*time.Millisecond, true, 1, "")
	}
	m.RecordQuery("q", 120*time.Millisecond, true, 1, "")
	m.RecordQuery("q", 120*time.Millisecond, true, 1, "")

	// 2/10 slow costs 6 points; average latency stays under the 50ms floor.
	h := m.DatabaseHealth()
	assert.InDelta(t, 94, h.Score, 0.01)
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, 2, h.Metrics.SlowQueryCount)
}

func TestHealthUtilizationPenalty(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())
	m.SetPoolStats(func() PoolSnapshot {
		return PoolSnapshot{ActiveConnections: 9, TotalConnections: 10, Utilization: 95}
	})

	// (95-80)*2 = 30 points.
	h := m.DatabaseHealth()
	assert.InDelta(t, 70, h.Score, 0.01)
	assert.Equal(t, StatusWarning, h.Status)
	assert.Equal(t, 9, h.Metrics.ActiveConnections)
}

func TestHealthLatencyPenaltyIsCapped(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())

	// Every query slow (30 points) and the latency penalty saturates at 20.
	for i := 0; i < 5; i++ {
		m.RecordQuery("glacial", time.Second, true, 1, "")
	}

	h := m.DatabaseHealth()
	assert.InDelta(t, 50, h.Score, 0.01)
	assert.Equal(t, StatusCritical, h.Status)
}

func TestAnalyticsAggregatesByQueryName(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())

	m.RecordQuery("list_users", 10*time.Millisecond, true, 5, "")
	m.RecordQuery("list_users", 30*time.Millisecond, false, 0, "deadlock")
	m.RecordQuery("report", 100*time.Millisecond, true, 1000, "")

	a, err := m.PerformanceAnalytics(RangeLastHour)
	require.NoError(t, err)

	assert.Equal(t, 3, a.TotalQueries)
	assert.InDelta(t, 100.0/3, a.ErrorRate, 0.01)
	assert.InDelta(t, 100.0/3, a.SlowQueryRate, 0.01)

	require.Len(t, a.Queries, 2)
	// Sorted by total time, most expensive first.
	assert.Equal(t, "report", a.Queries[0].Query)

	users := a.Queries[1]
	assert.Equal(t, 2, users.Count)
	assert.Equal(t, 10*time.Millisecond, users.MinTime)
	assert.Equal(t, 30*time.Millisecond, users.MaxTime)
	assert.Equal(t, 20*time.Millisecond, users.AvgTime)
	assert.Equal(t, 1, users.Errors)
	assert.InDelta(t, 50, users.SuccessRate, 0.01)
}

func TestAnalyticsRejectsUnknownRange(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())

	_, err := m.PerformanceAnalytics(Range("last_month"))
	assert.Error(t, err)
}

func TestCacheHitRate(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())

	rate, samples := m.CacheHitRate()
	assert.Zero(t, rate)
	assert.Zero(t, samples)

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()

	rate, samples = m.CacheHitRate()
	assert.InDelta(t, 75, rate, 0.01)
	assert.Equal(t, uint64(4), samples)
}

func TestRecommendationRulesFire(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())
	m.SetPoolStats(func() PoolSnapshot {
		return PoolSnapshot{ActiveConnections: 9, TotalConnections: 10, Utilization: 90}
	})

	// 15% slow, 10% errors.
	for i := 0; i < 15; i++ {
		m.RecordQuery("ok", 10*time.Millisecond, true, 1, "")
	}
	for i := 0; i < 3; i++ {
		m.RecordQuery("slow", 150*time.Millisecond, true, 1, "")
	}
	m.RecordQuery("bad", 10*time.Millisecond, false, 0, "err")
	m.RecordQuery("bad", 10*time.Millisecond, false, 0, "err")

	// 110 cache lookups at a 54.5% hit rate.
	for i := 0; i < 60; i++ {
		m.RecordCacheHit()
	}
	for i := 0; i < 50; i++ {
		m.RecordCacheMiss()
	}

	recs := m.OptimizationRecommendations()
	byCategory := map[string]Recommendation{}
	for _, r := range recs {
		byCategory[r.Category] = r
	}

	require.Len(t, recs, 4)
	assert.Equal(t, PriorityHigh, byCategory["query_performance"].Priority)
	assert.Equal(t, PriorityCritical, byCategory["reliability"].Priority)
	assert.Equal(t, PriorityHigh, byCategory["connection_pool"].Priority)
	assert.Equal(t, PriorityMedium, byCategory["caching"].Priority)
}

func TestNoRecommendationsWhenClean(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())

	for i := 0; i < 50; i++ {
		m.RecordQuery("ok", 5*time.Millisecond, true, 1, "")
	}

	assert.Empty(t, m.OptimizationRecommendations())
}

func TestMonitoredQueryRetriesTransientFailures(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())
	m.backoffBase = time.Millisecond

	attempts := 0
	err := m.MonitoredQuery(context.Background(), "flaky", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	// Only the final outcome is recorded.
	total, success, failed, _, _ := m.Totals()
	assert.Equal(t, uint64(1), total)
	assert.Equal(t, uint64(1), success)
	assert.Equal(t, uint64(0), failed)
}

func TestMonitoredQueryExhaustsRetries(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())
	m.backoffBase = time.Millisecond

	permanent := errors.New("table does not exist")
	attempts := 0
	err := m.MonitoredQuery(context.Background(), "doomed", func(context.Context) error {
		attempts++
		return permanent
	}, WithRetries(3))

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 3, attempts)

	total, _, failed, _, _ := m.Totals()
	assert.Equal(t, uint64(1), total)
	assert.Equal(t, uint64(1), failed)
}

func TestMonitoredQueryTimesOut(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())
	m.backoffBase = time.Millisecond

	err := m.MonitoredQuery(context.Background(), "stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(20*time.Millisecond), WithRetries(1))

	assert.True(t, IsTimeout(err), "expected timeout error, got %v", err)
}

func TestMonitoredQueryCancellationNotRetried(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())
	m.backoffBase = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.MonitoredQuery(ctx, "cancelled", func(ctx context.Context) error {
			attempts++
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 1, attempts, "external cancellation must not be retried")
}

func TestBackoffDelayDoublesUpToCap(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())

	assert.Equal(t, time.Second, m.backoffDelay(1))
	assert.Equal(t, 2*time.Second, m.backoffDelay(2))
	assert.Equal(t, 4*time.Second, m.backoffDelay(3))
	assert.Equal(t, 5*time.Second, m.backoffDelay(4))
	assert.Equal(t, 5*time.Second, m.backoffDelay(8))
}
