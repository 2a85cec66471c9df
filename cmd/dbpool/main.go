// Package main is the entrypoint for the resilient database access layer.
// It loads configuration, wires the query monitor, connection pool, cache
// and observability servers, and handles graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joao-brasil/resilient-db-pool/internal/admin"
	"github.com/joao-brasil/resilient-db-pool/internal/cache"
	"github.com/joao-brasil/resilient-db-pool/internal/config"
	"github.com/joao-brasil/resilient-db-pool/internal/monitor"
	"github.com/joao-brasil/resilient-db-pool/internal/pool"
)

var configPath = flag.String("config", "configs/dbpool.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[main] Starting resilient database access layer")

	// ─── Load Configuration ───────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] Failed to load configuration: %v", err)
	}
	log.Printf("[main] Configuration loaded: max_connections=%d, replicas=%d, strategy=%s",
		cfg.Pool.MaxConnections, len(cfg.Routing.ReadReplicaURLs), cfg.Routing.Strategy)

	// ─── Metrics Server (Prometheus scrape endpoint) ──────────────────
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Admin.MetricsPort),
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] Metrics server listening on :%d/metrics", cfg.Admin.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] Metrics server error: %v", err)
		}
	}()

	// ─── Query Monitor ────────────────────────────────────────────────
	mon := monitor.New(cfg.Monitor)
	defer mon.Close()
	log.Printf("[main] Query monitor ready (retention=%s, max_history=%d)",
		cfg.Monitor.Retention, cfg.Monitor.MaxHistory)

	// ─── Cache Layer ──────────────────────────────────────────────────
	var cacheLayer *cache.Cache
	if cfg.Cache.Enabled {
		cacheLayer = cache.New(cfg.Cache, mon)
		defer cacheLayer.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), cfg.Cache.DialTimeout)
		if err := cacheLayer.Ping(pingCtx); err != nil {
			log.Printf("[main] WARNING: cache unreachable at %s: %v", cfg.Cache.Addr, err)
		} else {
			log.Printf("[main] Cache ready at %s (ttl=%s)", cfg.Cache.Addr, cfg.Cache.TTL)
		}
		cancel()
	}

	// ─── Connection Pool ──────────────────────────────────────────────
	dbPool, err := pool.New(cfg, mon)
	if err != nil {
		log.Fatalf("[main] Failed to initialize connection pool: %v", err)
	}
	stats := dbPool.Stats()
	log.Printf("[main] Pool ready: idle=%d, active=%d, max=%d", stats.Idle, stats.Active, stats.Max)

	// ─── Admin Server ─────────────────────────────────────────────────
	adminServer := admin.NewServer(dbPool, mon, cfg.Admin.Port).Start()

	// ─── Graceful Shutdown ────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[main] Ready. Waiting for shutdown signal...")
	sig := <-sigCh
	log.Printf("[main] Received signal %v, shutting down gracefully...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pool.ShutdownTimeout)
	defer cancel()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Admin server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Metrics server shutdown error: %v", err)
	}
	if err := dbPool.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Pool shutdown error: %v", err)
	}

	log.Println("[main] Shutdown complete.")
}
