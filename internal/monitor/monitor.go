// Package monitor records query outcomes and latencies, maintains rolling
// metrics over a bounded history, scores database health and derives
// optimization recommendations for the admin surface.
package monitor

import (
	"log"
	"sync"
	"time"

	"github.com/joao-brasil/resilient-db-pool/internal/config"
	"github.com/joao-brasil/resilient-db-pool/internal/metrics"
)

// Metric is a single recorded query outcome.
type Metric struct {
	Query     string        `json:"query"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	Rows      int64         `json:"rows"`
	Error     string        `json:"error,omitempty"`
}

// PoolSnapshot is the slice of pool state the monitor folds into health
// scoring. It is provided by the pool via SetPoolStats to avoid a
// package cycle.
type PoolSnapshot struct {
	ActiveConnections int     `json:"active_connections"`
	TotalConnections  int     `json:"total_connections"`
	Utilization       float64 `json:"utilization"`
}

// StatsFunc supplies the current pool snapshot.
type StatsFunc func() PoolSnapshot

// Monitor records every query's outcome and latency and serves the
// observability surface. One instance is shared by the pool and the cache.
type Monitor struct {
	mu      sync.Mutex
	history []Metric

	maxHistory        int
	retention         time.Duration
	slowThreshold     time.Duration
	criticalThreshold time.Duration
	cleanupInterval   time.Duration

	total    uint64
	success  uint64
	failed   uint64
	slow     uint64
	critical uint64

	cacheHits   uint64
	cacheMisses uint64

	poolStats StatsFunc

	// backoffBase and backoffCap bound the retry delays of MonitoredQuery.
	backoffBase time.Duration
	backoffCap  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Monitor and starts its periodic history cleanup.
func New(cfg config.MonitorConfig) *Monitor {
	m := &Monitor{
		history:           make([]Metric, 0, cfg.MaxHistory),
		maxHistory:        cfg.MaxHistory,
		retention:         cfg.Retention,
		slowThreshold:     cfg.SlowQueryThreshold,
		criticalThreshold: cfg.CriticalQueryThreshold,
		cleanupInterval:   cfg.CleanupInterval,
		backoffBase:       time.Second,
		backoffCap:        5 * time.Second,
		stopCh:            make(chan struct{}),
	}

	m.wg.Add(1)
	go m.cleanupLoop()

	return m
}

// SetPoolStats wires the pool's stats snapshot into health scoring.
func (m *Monitor) SetPoolStats(fn StatsFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poolStats = fn
}

// Close stops the cleanup loop.
func (m *Monitor) Close() {
	close(m.stopCh)
	m.wg.Wait()
}

// RecordQuery appends a query outcome to the history and updates the
// cumulative counters. Queries above the slow and critical thresholds are
// logged as warnings.
func (m *Monitor) RecordQuery(name string, d time.Duration, success bool, rows int64, errMsg string) {
	m.mu.Lock()

	m.history = append(m.history, Metric{
		Query:     name,
		Duration:  d,
		Timestamp: time.Now(),
		Success:   success,
		Rows:      rows,
		Error:     errMsg,
	})
	// Cap the history, discarding the oldest entries.
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}

	m.total++
	if success {
		m.success++
	} else {
		m.failed++
	}

	slow := d >= m.slowThreshold
	critical := d >= m.criticalThreshold
	if slow {
		m.slow++
	}
	if critical {
		m.critical++
	}
	m.mu.Unlock()

	if success {
		metrics.QueriesTotal.WithLabelValues("success").Inc()
	} else {
		metrics.QueriesTotal.WithLabelValues("failure").Inc()
	}

	switch {
	case critical:
		metrics.SlowQueriesTotal.WithLabelValues("critical").Inc()
		log.Printf("[monitor] CRITICAL slow query %q took %s (threshold %s)",
			name, d, m.criticalThreshold)
	case slow:
		metrics.SlowQueriesTotal.WithLabelValues("slow").Inc()
		log.Printf("[monitor] slow query %q took %s (threshold %s)",
			name, d, m.slowThreshold)
	}
}

// RecordCacheHit registers a hit from the adjoining cache layer.
func (m *Monitor) RecordCacheHit() {
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
	metrics.CacheOperations.WithLabelValues("hit").Inc()
}

// RecordCacheMiss registers a miss from the adjoining cache layer.
func (m *Monitor) RecordCacheMiss() {
	m.mu.Lock()
	m.cacheMisses++
	m.mu.Unlock()
	metrics.CacheOperations.WithLabelValues("miss").Inc()
}

// CacheHitRate returns the cache hit rate in percent and the sample count.
func (m *Monitor) CacheHitRate() (rate float64, samples uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	samples = m.cacheHits + m.cacheMisses
	if samples == 0 {
		return 0, 0
	}
	return float64(m.cacheHits) / float64(samples) * 100, samples
}

// Totals returns the cumulative query counters.
func (m *Monitor) Totals() (total, success, failed, slow, critical uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total, m.success, m.failed, m.slow, m.critical
}

// cleanupLoop prunes history entries older than the retention window.
func (m *Monitor) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.prune()
		}
	}
}

// prune drops metrics older than the retention window. History is in
// insertion order, so the cutoff is found by scanning from the front.
func (m *Monitor) prune() {
	cutoff := time.Now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	i := 0
	for i < len(m.history) && m.history[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.history = append(m.history[:0:0], m.history[i:]...)
		log.Printf("[monitor] pruned %d metrics older than %s", i, m.retention)
	}
}

// snapshotSince copies the metrics recorded at or after the cutoff.
// Caller must hold m.mu.
func (m *Monitor) snapshotSince(cutoff time.Time) []Metric {
	out := make([]Metric, 0, len(m.history))
	for _, mt := range m.history {
		if !mt.Timestamp.Before(cutoff) {
			out = append(out, mt)
		}
	}
	return out
}
