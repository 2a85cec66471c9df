package monitor

import (
	"fmt"
	"sort"
	"time"
)

// Range selects the analytics window.
type Range string

const (
	RangeLastHour Range = "last_hour"
	RangeLastDay  Range = "last_day"
	RangeLastWeek Range = "last_week"
)

// Duration returns the window length for the range.
func (r Range) Duration() (time.Duration, error) {
	switch r {
	case RangeLastHour:
		return time.Hour, nil
	case RangeLastDay:
		return 24 * time.Hour, nil
	case RangeLastWeek:
		return 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown analytics range %q", string(r))
	}
}

// QueryStats aggregates the metrics of a single query name within a window.
type QueryStats struct {
	Query       string        `json:"query"`
	Count       int           `json:"count"`
	TotalTime   time.Duration `json:"total_time"`
	AvgTime     time.Duration `json:"avg_time"`
	MinTime     time.Duration `json:"min_time"`
	MaxTime     time.Duration `json:"max_time"`
	Errors      int           `json:"errors"`
	SuccessRate float64       `json:"success_rate"`
}

// Analytics is the per-window performance report.
type Analytics struct {
	Range         Range         `json:"range"`
	TotalQueries  int           `json:"total_queries"`
	ErrorRate     float64       `json:"error_rate"`
	SlowQueryRate float64       `json:"slow_query_rate"`
	Queries       []QueryStats  `json:"queries"`
	Window        time.Duration `json:"window"`
}

// PerformanceAnalytics groups the metrics within the requested range by
// query name. Queries are sorted by total time, most expensive first.
func (m *Monitor) PerformanceAnalytics(rng Range) (Analytics, error) {
	window, err := rng.Duration()
	if err != nil {
		return Analytics{}, err
	}

	m.mu.Lock()
	recent := m.snapshotSince(time.Now().Add(-window))
	slowThreshold := m.slowThreshold
	m.mu.Unlock()

	byName := make(map[string]*QueryStats)
	failures := 0
	slow := 0
	for _, mt := range recent {
		qs, ok := byName[mt.Query]
		if !ok {
			qs = &QueryStats{Query: mt.Query, MinTime: mt.Duration}
			byName[mt.Query] = qs
		}
		qs.Count++
		qs.TotalTime += mt.Duration
		if mt.Duration < qs.MinTime {
			qs.MinTime = mt.Duration
		}
		if mt.Duration > qs.MaxTime {
			qs.MaxTime = mt.Duration
		}
		if !mt.Success {
			qs.Errors++
			failures++
		}
		if mt.Duration >= slowThreshold {
			slow++
		}
	}

	queries := make([]QueryStats, 0, len(byName))
	for _, qs := range byName {
		qs.AvgTime = qs.TotalTime / time.Duration(qs.Count)
		qs.SuccessRate = float64(qs.Count-qs.Errors) / float64(qs.Count) * 100
		queries = append(queries, *qs)
	}
	sort.Slice(queries, func(i, j int) bool {
		return queries[i].TotalTime > queries[j].TotalTime
	})

	a := Analytics{
		Range:        rng,
		TotalQueries: len(recent),
		Queries:      queries,
		Window:       window,
	}
	if len(recent) > 0 {
		a.ErrorRate = float64(failures) / float64(len(recent)) * 100
		a.SlowQueryRate = float64(slow) / float64(len(recent)) * 100
	}
	return a, nil
}

// Priority grades a recommendation.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
)

// Recommendation is a rule-derived optimization suggestion.
type Recommendation struct {
	Priority    Priority `json:"priority"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Action      string   `json:"action"`
}

// OptimizationRecommendations derives rule-based suggestions from the
// current history, pool utilization and cache hit rate.
func (m *Monitor) OptimizationRecommendations() []Recommendation {
	m.mu.Lock()
	total := len(m.history)
	failures := 0
	slow := 0
	for _, mt := range m.history {
		if !mt.Success {
			failures++
		}
		if mt.Duration >= m.slowThreshold {
			slow++
		}
	}
	var utilization float64
	if m.poolStats != nil {
		utilization = m.poolStats().Utilization
	}
	cacheSamples := m.cacheHits + m.cacheMisses
	var cacheHitRate float64
	if cacheSamples > 0 {
		cacheHitRate = float64(m.cacheHits) / float64(cacheSamples) * 100
	}
	m.mu.Unlock()

	var recs []Recommendation

	if total > 0 {
		slowRate := float64(slow) / float64(total) * 100
		if slowRate > 10 {
			recs = append(recs, Recommendation{
				Priority: PriorityHigh,
				Category: "query_performance",
				Description: fmt.Sprintf("%.1f%% of queries exceed the slow threshold",
					slowRate),
				Action: "Add missing indexes or rewrite the most expensive queries",
			})
		}

		errorRate := float64(failures) / float64(total) * 100
		if errorRate > 5 {
			recs = append(recs, Recommendation{
				Priority: PriorityCritical,
				Category: "reliability",
				Description: fmt.Sprintf("Query error rate is %.1f%%",
					errorRate),
				Action: "Inspect database logs and recent failing queries immediately",
			})
		}
	}

	if utilization > 80 {
		recs = append(recs, Recommendation{
			Priority: PriorityHigh,
			Category: "connection_pool",
			Description: fmt.Sprintf("Connection pool utilization is %.0f%%",
				utilization),
			Action: "Raise max_connections or reduce connection hold times",
		})
	}

	if cacheSamples > 100 && cacheHitRate < 70 {
		recs = append(recs, Recommendation{
			Priority: PriorityMedium,
			Category: "caching",
			Description: fmt.Sprintf("Cache hit rate is %.1f%% over %d lookups",
				cacheHitRate, cacheSamples),
			Action: "Review cache keys and TTLs for frequently read data",
		})
	}

	return recs
}
