// Package config handles loading and validating the database-access-layer
// configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PoolConfig holds the connection pool limits and timers.
type PoolConfig struct {
	MinConnections      int           `yaml:"min_connections"`
	MaxConnections      int           `yaml:"max_connections"`
	AcquireTimeout      time.Duration `yaml:"acquire_timeout"`
	CreateTimeout       time.Duration `yaml:"create_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	TransactionTimeout  time.Duration `yaml:"transaction_timeout"`
	ReapInterval        time.Duration `yaml:"reap_interval"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	MaxQueueDepth       int           `yaml:"max_queue_depth"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
}

// RoutingConfig holds the write target and the optional read replica set.
type RoutingConfig struct {
	WriteURL        string   `yaml:"write_url"`
	ReadReplicaURLs []string `yaml:"read_replica_urls"`
	ReplicaRouting  bool     `yaml:"replica_routing"`
	Strategy        string   `yaml:"strategy"`
}

// BreakerConfig holds the circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	MonitoringWindow time.Duration `yaml:"monitoring_window"`
}

// MonitorConfig holds the query monitor thresholds and history bounds.
type MonitorConfig struct {
	SlowQueryThreshold     time.Duration `yaml:"slow_query_threshold"`
	CriticalQueryThreshold time.Duration `yaml:"critical_query_threshold"`
	MaxHistory             int           `yaml:"max_history"`
	Retention              time.Duration `yaml:"retention"`
	CleanupInterval        time.Duration `yaml:"cleanup_interval"`
}

// CacheConfig holds the Redis configuration for the adjoining cache layer.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	TTL          time.Duration `yaml:"ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AdminConfig holds the ports for the observability surface.
type AdminConfig struct {
	Port        int `yaml:"port"`
	MetricsPort int `yaml:"metrics_port"`
}

// Config is the root configuration structure.
type Config struct {
	Pool    PoolConfig    `yaml:"pool"`
	Routing RoutingConfig `yaml:"routing"`
	Breaker BreakerConfig `yaml:"breaker"`
	Monitor MonitorConfig `yaml:"monitor"`
	Cache   CacheConfig   `yaml:"cache"`
	Admin   AdminConfig   `yaml:"admin"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// Validate checks mandatory fields.
func (c *Config) Validate() error {
	if c.Pool.MaxConnections == 0 {
		return fmt.Errorf("pool.max_connections is required")
	}
	if c.Pool.MinConnections > c.Pool.MaxConnections {
		return fmt.Errorf("pool.min_connections (%d) exceeds pool.max_connections (%d)",
			c.Pool.MinConnections, c.Pool.MaxConnections)
	}
	if c.Routing.WriteURL == "" {
		return fmt.Errorf("routing.write_url is required")
	}
	if c.Routing.ReplicaRouting && len(c.Routing.ReadReplicaURLs) == 0 {
		return fmt.Errorf("routing.replica_routing enabled but no read_replica_urls configured")
	}
	switch c.Routing.Strategy {
	case "", "random", "round_robin", "least_loaded":
	default:
		return fmt.Errorf("routing.strategy %q is not one of random, round_robin, least_loaded", c.Routing.Strategy)
	}
	return nil
}

// ApplyDefaults fills in reasonable defaults for unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Pool.AcquireTimeout == 0 {
		c.Pool.AcquireTimeout = 30 * time.Second
	}
	if c.Pool.CreateTimeout == 0 {
		c.Pool.CreateTimeout = 10 * time.Second
	}
	if c.Pool.IdleTimeout == 0 {
		c.Pool.IdleTimeout = 5 * time.Minute
	}
	if c.Pool.TransactionTimeout == 0 {
		c.Pool.TransactionTimeout = 30 * time.Second
	}
	if c.Pool.ReapInterval == 0 {
		c.Pool.ReapInterval = 30 * time.Second
	}
	if c.Pool.HealthCheckInterval == 0 {
		c.Pool.HealthCheckInterval = 15 * time.Second
	}
	if c.Pool.MaxQueueDepth == 0 {
		c.Pool.MaxQueueDepth = 100
	}
	if c.Pool.ShutdownTimeout == 0 {
		c.Pool.ShutdownTimeout = 15 * time.Second
	}
	if c.Routing.Strategy == "" {
		c.Routing.Strategy = "random"
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.ResetTimeout == 0 {
		c.Breaker.ResetTimeout = 30 * time.Second
	}
	if c.Breaker.MonitoringWindow == 0 {
		c.Breaker.MonitoringWindow = time.Minute
	}
	if c.Monitor.SlowQueryThreshold == 0 {
		c.Monitor.SlowQueryThreshold = 100 * time.Millisecond
	}
	if c.Monitor.CriticalQueryThreshold == 0 {
		c.Monitor.CriticalQueryThreshold = 500 * time.Millisecond
	}
	if c.Monitor.MaxHistory == 0 {
		c.Monitor.MaxHistory = 10000
	}
	if c.Monitor.Retention == 0 {
		c.Monitor.Retention = time.Hour
	}
	if c.Monitor.CleanupInterval == 0 {
		c.Monitor.CleanupInterval = 5 * time.Minute
	}
	if c.Cache.Addr == "" {
		c.Cache.Addr = "redis:6379"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Cache.DialTimeout == 0 {
		c.Cache.DialTimeout = 5 * time.Second
	}
	if c.Cache.ReadTimeout == 0 {
		c.Cache.ReadTimeout = 3 * time.Second
	}
	if c.Cache.WriteTimeout == 0 {
		c.Cache.WriteTimeout = 3 * time.Second
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 8080
	}
	if c.Admin.MetricsPort == 0 {
		c.Admin.MetricsPort = 9090
	}
}
