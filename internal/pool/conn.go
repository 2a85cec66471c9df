// Package pool implements the resilient connection pool: bounded
// acquisition with per-role FIFO waiting, read/write routing across
// replicas, circuit breaking, periodic reaping and health probing.
package pool

import (
	"database/sql"
	"sync"
	"time"

	"github.com/joao-brasil/resilient-db-pool/pkg/target"
)

// Conn wraps a *sql.DB with the metadata the pool needs to manage it.
// It is owned exclusively by the pool's registry.
type Conn struct {
	mu sync.Mutex

	// db is the underlying database handle (go-mssqldb via database/sql).
	db *sql.DB

	// id is a unique identifier for this connection within the pool.
	id uint64

	// role is the traffic class this connection serves.
	role target.Role

	// url is the DSN the connection was opened against.
	url string

	// replica is the index into the replica set, or -1 for the write target.
	replica int

	// inUse is set by acquire and cleared by release. It is the sole
	// authority on whether the connection may be handed out.
	inUse bool

	// healthy is cleared by a failed probe and restored by gradual recovery.
	healthy bool

	// consecutiveErrors counts probe/query failures since the last full recovery.
	consecutiveErrors int

	createdAt  time.Time
	lastUsedAt time.Time

	// totalQueries and avgResponse feed the pool statistics.
	totalQueries uint64
	avgResponse  time.Duration
}

func newConn(id uint64, role target.Role, url string, replica int, db *sql.DB) *Conn {
	now := time.Now()
	return &Conn{
		db:         db,
		id:         id,
		role:       role,
		url:        url,
		replica:    replica,
		healthy:    true,
		createdAt:  now,
		lastUsedAt: now,
	}
}

// DB returns the underlying database handle.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() uint64 {
	return c.id
}

// Role returns the traffic class this connection serves.
func (c *Conn) Role() target.Role {
	return c.role
}

// markAcquired transitions the connection to in-use.
func (c *Conn) markAcquired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inUse = true
	c.lastUsedAt = time.Now()
}

// markIdle transitions the connection back to available.
func (c *Conn) markIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inUse = false
	c.lastUsedAt = time.Now()
}

// available reports whether the connection can be handed out.
func (c *Conn) available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.inUse && c.healthy
}

// isHealthy reports whether the connection passed its last probes.
func (c *Conn) isHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// busy reports whether the connection is currently in use.
func (c *Conn) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse
}

// idleDuration returns how long the connection has been unused.
func (c *Conn) idleDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsedAt)
}

// recordResult folds a query outcome into the connection's counters and
// rolling average response time.
func (c *Conn) recordResult(d time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalQueries++
	c.avgResponse += (d - c.avgResponse) / time.Duration(c.totalQueries)
	if success {
		if c.consecutiveErrors > 0 {
			c.consecutiveErrors--
		}
	} else {
		c.consecutiveErrors++
	}
}

// probeSuccess decrements the error counter: recovery is gradual, so a
// connection that failed many times needs several consecutive successes
// before being fully trusted again.
func (c *Conn) probeSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consecutiveErrors > 0 {
		c.consecutiveErrors--
	}
	if c.consecutiveErrors == 0 {
		c.healthy = true
	}
}

// probeFailure increments the error counter and marks the connection
// unhealthy. Returns the new error count.
func (c *Conn) probeFailure() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveErrors++
	c.healthy = false
	return c.consecutiveErrors
}

// errorCount returns the consecutive error counter.
func (c *Conn) errorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveErrors
}

// stats returns the counters the pool aggregates into Stats.
func (c *Conn) stats() (queries uint64, avg time.Duration, errs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalQueries, c.avgResponse, c.consecutiveErrors
}

// Close closes the underlying database handle.
func (c *Conn) Close() error {
	return c.db.Close()
}
