// Package admin exposes the observability surface over HTTP for the
// external admin dashboard: pool statistics, database health, performance
// analytics and optimization recommendations.
package admin

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/joao-brasil/resilient-db-pool/internal/monitor"
	"github.com/joao-brasil/resilient-db-pool/internal/pool"
)

// Server serves the admin endpoints.
type Server struct {
	pool *pool.Pool
	mon  *monitor.Monitor
	port int
}

// NewServer creates the admin server for the given pool and monitor.
func NewServer(p *pool.Pool, mon *monitor.Monitor, port int) *Server {
	return &Server{pool: p, mon: mon, port: port}
}

// Handler builds the admin route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		health := s.mon.DatabaseHealth()
		status := http.StatusOK
		if health.Status == monitor.StatusCritical {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	})

	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.pool.Stats())
	})

	mux.HandleFunc("/pool", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"stats":    s.pool.Stats(),
			"breakers": s.pool.BreakerStates(),
			"window":   s.mon.ConnectionPoolMetrics(),
		})
	})

	mux.HandleFunc("/analytics", func(w http.ResponseWriter, r *http.Request) {
		rng := monitor.Range(r.URL.Query().Get("range"))
		if rng == "" {
			rng = monitor.RangeLastHour
		}
		analytics, err := s.mon.PerformanceAnalytics(rng)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, analytics)
	})

	mux.HandleFunc("/recommendations", func(w http.ResponseWriter, _ *http.Request) {
		recs := s.mon.OptimizationRecommendations()
		if recs == nil {
			recs = []monitor.Recommendation{}
		}
		writeJSON(w, http.StatusOK, recs)
	})

	return mux
}

// Start launches the HTTP server and returns it for graceful shutdown.
func (s *Server) Start() *http.Server {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("[admin] HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[admin] HTTP server error: %v", err)
		}
	}()

	return server
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
