package pool

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/resilient-db-pool/internal/breaker"
	"github.com/joao-brasil/resilient-db-pool/internal/config"
	"github.com/joao-brasil/resilient-db-pool/internal/metrics"
	"github.com/joao-brasil/resilient-db-pool/internal/monitor"
	"github.com/joao-brasil/resilient-db-pool/pkg/target"

	_ "github.com/microsoft/go-mssqldb"
)

// DialFunc opens a database handle for a DSN. The default dials SQL Server
// through go-mssqldb.
type DialFunc func(ctx context.Context, url string) (*sql.DB, error)

// ProbeFunc is the liveness check run against a handle. The default is
// PingContext.
type ProbeFunc func(ctx context.Context, db *sql.DB) error

// QueryFunc runs application work against an acquired connection. Results
// are captured by closure.
type QueryFunc func(ctx context.Context, db *sql.DB) error

// TxFunc runs application work inside a driver-level transaction.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// waiter is a pending acquisition request. The channel is buffered so a
// handoff never blocks the releasing side.
type waiter struct {
	role     target.Role
	ch       chan *Conn
	deadline time.Time
}

// Pool is the resilient connection pool. It owns the connection registry
// and the per-role acquisition queues; both are mutated only under mu so
// that the size invariant holds under concurrent acquisition bursts.
type Pool struct {
	mu       sync.Mutex
	conns    map[uint64]*Conn
	waiters  map[target.Role][]*waiter
	creating int // connections being dialed, reserved against MaxConnections
	closed   bool

	cfg     config.PoolConfig
	routing config.RoutingConfig

	nextID      atomic.Uint64
	totalErrors atomic.Uint64

	dial     DialFunc
	probe    ProbeFunc
	balancer Balancer

	readBreaker  *breaker.Breaker
	writeBreaker *breaker.Breaker

	mon *monitor.Monitor

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option customizes pool construction.
type Option func(*Pool)

// WithDial replaces the driver dialer.
func WithDial(dial DialFunc) Option {
	return func(p *Pool) { p.dial = dial }
}

// WithProbe replaces the liveness check.
func WithProbe(probe ProbeFunc) Option {
	return func(p *Pool) { p.probe = probe }
}

// WithBalancer replaces the replica balancer chosen by the routing strategy.
func WithBalancer(b Balancer) Option {
	return func(p *Pool) { p.balancer = b }
}

// New creates the pool, eagerly opens min_connections write connections
// (warm pool) and starts the reaper and health prober.
func New(cfg *config.Config, mon *monitor.Monitor, opts ...Option) (*Pool, error) {
	balancer, err := NewBalancer(cfg.Routing.Strategy)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		conns:    make(map[uint64]*Conn),
		waiters:  make(map[target.Role][]*waiter),
		cfg:      cfg.Pool,
		routing:  cfg.Routing,
		dial:     defaultDial,
		probe:    defaultProbe,
		balancer: balancer,
		readBreaker: breaker.New("read", cfg.Breaker.FailureThreshold,
			cfg.Breaker.ResetTimeout, cfg.Breaker.MonitoringWindow),
		writeBreaker: breaker.New("write", cfg.Breaker.FailureThreshold,
			cfg.Breaker.ResetTimeout, cfg.Breaker.MonitoringWindow),
		mon:    mon,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	mon.SetPoolStats(func() monitor.PoolSnapshot {
		s := p.Stats()
		return monitor.PoolSnapshot{
			ActiveConnections: s.Active,
			TotalConnections:  s.Total,
			Utilization:       s.Utilization,
		}
	})

	// Warm pool: open min_connections write connections upfront.
	ctx := context.Background()
	for i := 0; i < p.cfg.MinConnections; i++ {
		conn, err := p.create(ctx, target.RoleWrite)
		if err != nil {
			log.Printf("[pool] WARNING: failed to create warm connection %d/%d: %v",
				i+1, p.cfg.MinConnections, err)
			continue
		}
		p.mu.Lock()
		p.conns[conn.id] = conn
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.updateGauges()
	warm := len(p.conns)
	p.mu.Unlock()
	metrics.ConnectionsMax.Set(float64(p.cfg.MaxConnections))
	log.Printf("[pool] initialized: %d warm connections, max=%d, queue cap=%d",
		warm, p.cfg.MaxConnections, p.cfg.MaxQueueDepth)

	p.wg.Add(2)
	go p.reaperLoop()
	go p.proberLoop()

	return p, nil
}

// Acquire obtains a connection of the requested role: a healthy idle one if
// available, a freshly created one if under max_connections, otherwise the
// caller queues FIFO behind its role until a connection is handed to it or
// the acquire deadline fires.
func (p *Pool) Acquire(ctx context.Context, role target.Role) (*Conn, error) {
	start := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &Error{Kind: ErrorClosed, Role: role}
	}

	// Reuse a healthy idle connection of the right role.
	for _, c := range p.conns {
		if c.role == role && c.available() {
			c.markAcquired()
			p.updateGauges()
			p.mu.Unlock()
			metrics.AcquisitionsTotal.WithLabelValues(role.String(), "reused").Inc()
			return c, nil
		}
	}

	// Under max: reserve a slot and create. The reservation keeps the
	// check-then-create sequence atomic with respect to other acquirers.
	if len(p.conns)+p.creating < p.cfg.MaxConnections {
		p.creating++
		p.mu.Unlock()

		conn, err := p.create(ctx, role)

		p.mu.Lock()
		p.creating--
		if err != nil {
			p.mu.Unlock()
			metrics.AcquisitionsTotal.WithLabelValues(role.String(), "create_failed").Inc()
			return nil, err
		}
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return nil, &Error{Kind: ErrorClosed, Role: role}
		}
		conn.markAcquired()
		p.conns[conn.id] = conn
		p.updateGauges()
		p.mu.Unlock()
		metrics.AcquisitionsTotal.WithLabelValues(role.String(), "created").Inc()
		return conn, nil
	}

	// Saturated: enter the wait queue, bounded by max_queue_depth.
	queue := p.waiters[role]
	if len(queue) >= p.cfg.MaxQueueDepth {
		depth := len(queue)
		p.mu.Unlock()
		metrics.AcquisitionsTotal.WithLabelValues(role.String(), "rejected_exhausted").Inc()
		return nil, &Error{Kind: ErrorExhausted, Role: role, Depth: depth, MaxDepth: p.cfg.MaxQueueDepth}
	}
	w := &waiter{
		role:     role,
		ch:       make(chan *Conn, 1),
		deadline: start.Add(p.cfg.AcquireTimeout),
	}
	p.waiters[role] = append(queue, w)
	metrics.QueueLength.WithLabelValues(role.String()).Set(float64(len(p.waiters[role])))
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case conn := <-w.ch:
		if conn == nil {
			// Channel closed: either the reaper swept an expired entry or
			// the pool shut down.
			if p.isClosed() {
				return nil, &Error{Kind: ErrorClosed, Role: role}
			}
			return nil, &Error{Kind: ErrorAcquireTimeout, Role: role,
				Wait: time.Since(start), Timeout: p.cfg.AcquireTimeout}
		}
		metrics.QueueWaitDuration.WithLabelValues(role.String()).Observe(time.Since(start).Seconds())
		metrics.AcquisitionsTotal.WithLabelValues(role.String(), "acquired_after_wait").Inc()
		return conn, nil

	case <-timer.C:
		if p.removeWaiter(w) {
			metrics.AcquisitionsTotal.WithLabelValues(role.String(), "timeout").Inc()
			return nil, &Error{Kind: ErrorAcquireTimeout, Role: role,
				Wait: time.Since(start), Timeout: p.cfg.AcquireTimeout}
		}
		// Either a handoff was committed to our channel or the reaper
		// swept the entry; take whichever arrived.
		conn := <-w.ch
		if conn == nil {
			if p.isClosed() {
				return nil, &Error{Kind: ErrorClosed, Role: role}
			}
			return nil, &Error{Kind: ErrorAcquireTimeout, Role: role,
				Wait: time.Since(start), Timeout: p.cfg.AcquireTimeout}
		}
		return conn, nil

	case <-ctx.Done():
		if p.removeWaiter(w) {
			metrics.AcquisitionsTotal.WithLabelValues(role.String(), "cancelled").Inc()
			return nil, ctx.Err()
		}
		// Lost the race against a handoff: return the connection.
		if conn := <-w.ch; conn != nil {
			p.Release(conn)
		}
		return nil, ctx.Err()
	}
}

// Release returns a connection to the pool. If a waiter of the same role is
// pending, the connection is handed directly to the oldest one so FIFO
// fairness holds and the connection never bounces through idle while demand
// is queued. Otherwise it is marked idle.
func (p *Pool) Release(conn *Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		delete(p.conns, conn.id)
		p.mu.Unlock()
		conn.Close()
		return
	}

	if queue := p.waiters[conn.role]; len(queue) > 0 && conn.isHealthy() {
		w := queue[0]
		p.waiters[conn.role] = queue[1:]
		metrics.QueueLength.WithLabelValues(conn.role.String()).Set(float64(len(queue) - 1))
		conn.markAcquired()
		p.mu.Unlock()
		w.ch <- conn
		return
	}

	conn.markIdle()
	p.updateGauges()
	p.mu.Unlock()
}

// ExecuteQuery acquires a connection of the given role, runs fn against its
// database handle, records the outcome to the monitor and releases the
// connection on every exit path. The whole operation runs under the role's
// circuit breaker.
func (p *Pool) ExecuteQuery(ctx context.Context, name string, role target.Role, fn QueryFunc) error {
	return p.breakerFor(role).Execute(func() error {
		conn, err := p.Acquire(ctx, role)
		if err != nil {
			p.totalErrors.Add(1)
			p.mon.RecordQuery(name, 0, false, 0, err.Error())
			return err
		}
		defer p.Release(conn)

		start := time.Now()
		err = fn(ctx, conn.DB())
		elapsed := time.Since(start)

		conn.recordResult(elapsed, err == nil)
		metrics.QueryDuration.WithLabelValues(role.String()).Observe(elapsed.Seconds())

		if err != nil {
			p.totalErrors.Add(1)
			p.mon.RecordQuery(name, elapsed, false, 0, err.Error())
			return err
		}
		p.mon.RecordQuery(name, elapsed, true, 0, "")
		return nil
	})
}

// ExecuteReadQuery routes fn to a read connection.
func (p *Pool) ExecuteReadQuery(ctx context.Context, name string, fn QueryFunc) error {
	return p.ExecuteQuery(ctx, name, target.RoleRead, fn)
}

// ExecuteWriteQuery routes fn to a write connection.
func (p *Pool) ExecuteWriteQuery(ctx context.Context, name string, fn QueryFunc) error {
	return p.ExecuteQuery(ctx, name, target.RoleWrite, fn)
}

// ExecuteTransaction acquires a write connection and runs fn inside a
// driver-level transaction bounded by transaction_timeout. The acquire
// itself is bounded by acquire_timeout.
func (p *Pool) ExecuteTransaction(ctx context.Context, name string, fn TxFunc) error {
	return p.writeBreaker.Execute(func() error {
		conn, err := p.Acquire(ctx, target.RoleWrite)
		if err != nil {
			p.totalErrors.Add(1)
			p.mon.RecordQuery(name, 0, false, 0, err.Error())
			return err
		}
		defer p.Release(conn)

		txCtx, cancel := context.WithTimeout(ctx, p.cfg.TransactionTimeout)
		defer cancel()

		start := time.Now()
		tx, err := conn.DB().BeginTx(txCtx, nil)
		if err != nil {
			elapsed := time.Since(start)
			conn.recordResult(elapsed, false)
			p.totalErrors.Add(1)
			p.mon.RecordQuery(name, elapsed, false, 0, err.Error())
			return fmt.Errorf("begin transaction %q: %w", name, err)
		}

		if err := fn(txCtx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("[pool] rollback of %q failed: %v", name, rbErr)
			}
			elapsed := time.Since(start)
			conn.recordResult(elapsed, false)
			p.totalErrors.Add(1)
			p.mon.RecordQuery(name, elapsed, false, 0, err.Error())
			return err
		}

		if err := tx.Commit(); err != nil {
			elapsed := time.Since(start)
			conn.recordResult(elapsed, false)
			p.totalErrors.Add(1)
			p.mon.RecordQuery(name, elapsed, false, 0, err.Error())
			return fmt.Errorf("commit transaction %q: %w", name, err)
		}

		elapsed := time.Since(start)
		conn.recordResult(elapsed, true)
		metrics.QueryDuration.WithLabelValues(target.RoleWrite.String()).Observe(elapsed.Seconds())
		p.mon.RecordQuery(name, elapsed, true, 0, "")
		return nil
	})
}

// Stats holds a point-in-time pool snapshot.
type Stats struct {
	Active          int           `json:"active"`
	Idle            int           `json:"idle"`
	Pending         int           `json:"pending"`
	Total           int           `json:"total"`
	Max             int           `json:"max"`
	Utilization     float64       `json:"utilization"`
	TotalErrors     uint64        `json:"total_errors"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Total:       len(p.conns),
		Max:         p.cfg.MaxConnections,
		TotalErrors: p.totalErrors.Load(),
	}
	var sum time.Duration
	sampled := 0
	for _, c := range p.conns {
		if c.busy() {
			s.Active++
		} else {
			s.Idle++
		}
		if queries, avg, _ := c.stats(); queries > 0 {
			sum += avg
			sampled++
		}
	}
	for _, queue := range p.waiters {
		s.Pending += len(queue)
	}
	if s.Max > 0 {
		s.Utilization = float64(s.Active) / float64(s.Max) * 100
	}
	if sampled > 0 {
		s.AvgResponseTime = sum / time.Duration(sampled)
	}
	return s
}

// BreakerStates returns the circuit breaker state per role.
func (p *Pool) BreakerStates() map[target.Role]string {
	return map[target.Role]string{
		target.RoleRead:  p.readBreaker.State().String(),
		target.RoleWrite: p.writeBreaker.State().String(),
	}
}

// Shutdown stops the reaper and prober, rejects all waiters, waits for
// in-use connections to drain (bounded by ctx) and disconnects everything.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)

	for role, queue := range p.waiters {
		for _, w := range queue {
			close(w.ch)
		}
		metrics.QueueLength.WithLabelValues(role.String()).Set(0)
	}
	p.waiters = make(map[target.Role][]*waiter)
	p.mu.Unlock()

	// Wait for in-use connections to come back; Release closes them once
	// the pool is marked closed.
	drained := p.waitForDrain(ctx)

	p.mu.Lock()
	for id, c := range p.conns {
		delete(p.conns, id)
		c.Close()
	}
	p.updateGauges()
	p.mu.Unlock()

	p.wg.Wait()
	log.Println("[pool] shut down")

	if !drained {
		return fmt.Errorf("pool shutdown: %w", ctx.Err())
	}
	return nil
}

// ── Internal helpers ─────────────────────────────────────────────────────

// defaultDial opens a SQL Server handle restricted to a single physical
// connection so each Conn maps 1:1 to a server connection; lifetime is
// managed by the pool, not database/sql.
func defaultDial(_ context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", url)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

func defaultProbe(ctx context.Context, db *sql.DB) error {
	return db.PingContext(ctx)
}

// create dials and liveness-checks a new connection for the role, routed
// through the balancer when replica routing applies.
func (p *Pool) create(ctx context.Context, role target.Role) (*Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CreateTimeout)
	defer cancel()

	url, replica := p.routeURL(role)

	db, err := p.dial(ctx, url)
	if err != nil {
		metrics.ConnectionErrors.WithLabelValues(role.String(), "dial_failed").Inc()
		return nil, &Error{Kind: ErrorCreate, Role: role, Err: err}
	}
	if err := p.probe(ctx, db); err != nil {
		db.Close()
		metrics.ConnectionErrors.WithLabelValues(role.String(), "initial_probe_failed").Inc()
		return nil, &Error{Kind: ErrorCreate, Role: role, Err: err}
	}

	return newConn(p.nextID.Add(1), role, url, replica, db), nil
}

// routeURL picks the DSN for a new connection. Reads go through the
// balancer across replicas when replica routing is enabled; everything
// else targets the primary.
func (p *Pool) routeURL(role target.Role) (string, int) {
	if role == target.RoleRead && p.routing.ReplicaRouting && len(p.routing.ReadReplicaURLs) > 0 {
		i := p.balancer.Pick(p.replicaLoads())
		return p.routing.ReadReplicaURLs[i], i
	}
	return p.routing.WriteURL, -1
}

// replicaLoads counts live connections per replica for the balancer.
func (p *Pool) replicaLoads() []int {
	loads := make([]int, len(p.routing.ReadReplicaURLs))
	p.mu.Lock()
	for _, c := range p.conns {
		if c.replica >= 0 && c.replica < len(loads) {
			loads[c.replica]++
		}
	}
	p.mu.Unlock()
	return loads
}

func (p *Pool) breakerFor(role target.Role) *breaker.Breaker {
	if role == target.RoleWrite {
		return p.writeBreaker
	}
	return p.readBreaker
}

// removeWaiter removes w from its role queue. Returns false if w was
// already dequeued, meaning a connection has been committed to its channel.
func (p *Pool) removeWaiter(w *waiter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	queue := p.waiters[w.role]
	for i, cand := range queue {
		if cand == w {
			p.waiters[w.role] = append(queue[:i], queue[i+1:]...)
			metrics.QueueLength.WithLabelValues(w.role.String()).Set(float64(len(p.waiters[w.role])))
			return true
		}
	}
	return false
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// waitForDrain blocks until no connection is in use or ctx expires.
func (p *Pool) waitForDrain(ctx context.Context) bool {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		busy := 0
		for _, c := range p.conns {
			if c.busy() {
				busy++
			}
		}
		p.mu.Unlock()
		if busy == 0 {
			return true
		}

		select {
		case <-ctx.Done():
			log.Printf("[pool] shutdown drain timed out with %d connections in use", busy)
			return false
		case <-ticker.C:
		}
	}
}

// updateGauges refreshes the per-role Prometheus gauges. Caller holds p.mu.
func (p *Pool) updateGauges() {
	active := map[target.Role]int{}
	idle := map[target.Role]int{}
	for _, c := range p.conns {
		if c.busy() {
			active[c.role]++
		} else {
			idle[c.role]++
		}
	}
	for _, role := range []target.Role{target.RoleRead, target.RoleWrite} {
		metrics.ConnectionsActive.WithLabelValues(role.String()).Set(float64(active[role]))
		metrics.ConnectionsIdle.WithLabelValues(role.String()).Set(float64(idle[role]))
	}
}
