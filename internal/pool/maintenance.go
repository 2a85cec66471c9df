package pool

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/joao-brasil/resilient-db-pool/internal/metrics"
)

// hardErrorCeiling is the consecutive-error count past which a connection
// is permanently evicted. Replacements are created lazily on next demand.
const hardErrorCeiling = 10

// probeTimeout bounds a single liveness check.
const probeTimeout = 5 * time.Second

// reaperLoop periodically evicts idle connections past the TTL and sweeps
// the acquisition queue for entries whose deadline has silently passed.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapIdle()
			p.sweepWaiters()
		}
	}
}

// reapIdle evicts connections idle longer than idle_timeout, never dropping
// the pool below min_connections.
func (p *Pool) reapIdle() {
	p.mu.Lock()
	evicted := 0
	for id, c := range p.conns {
		if len(p.conns) <= p.cfg.MinConnections {
			break
		}
		if !c.busy() && c.idleDuration() > p.cfg.IdleTimeout {
			delete(p.conns, id)
			c.Close()
			evicted++
		}
	}
	if evicted > 0 {
		p.updateGauges()
	}
	p.mu.Unlock()

	if evicted > 0 {
		log.Printf("[reaper] evicted %d idle connections past %s", evicted, p.cfg.IdleTimeout)
	}
}

// sweepWaiters rejects queue entries whose deadline has passed. The
// acquirer's own timer normally fires first; this is the double-check
// against timer drift so no entry can linger past its deadline.
func (p *Pool) sweepWaiters() {
	now := time.Now()
	swept := 0

	p.mu.Lock()
	for role, queue := range p.waiters {
		kept := queue[:0]
		for _, w := range queue {
			if now.After(w.deadline) {
				close(w.ch)
				swept++
			} else {
				kept = append(kept, w)
			}
		}
		p.waiters[role] = kept
		metrics.QueueLength.WithLabelValues(role.String()).Set(float64(len(kept)))
	}
	p.mu.Unlock()

	if swept > 0 {
		log.Printf("[reaper] swept %d expired queue entries", swept)
	}
}

// proberLoop periodically runs the health check.
func (p *Pool) proberLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.HealthCheck(context.Background())
		}
	}
}

// HealthCheck probes every idle connection in parallel. A successful probe
// decrements the connection's error counter (gradual recovery); a failure
// increments it and marks the connection unhealthy. Connections past the
// hard ceiling are evicted permanently.
func (p *Pool) HealthCheck(ctx context.Context) (healthy, unhealthy int) {
	p.mu.Lock()
	conns := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		// In-use connections share a single physical connection with the
		// running query; probing them would block behind it.
		if !c.busy() {
			conns = append(conns, c)
		}
	}
	p.mu.Unlock()

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		dead []*Conn
	)

	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			err := p.probe(probeCtx, c.db)
			cancel()

			if err != nil {
				count := c.probeFailure()
				metrics.ConnectionErrors.WithLabelValues(c.role.String(), "probe_failed").Inc()
				log.Printf("[prober] probe failed for conn %d (%s, errors=%d): %v",
					c.id, c.role, count, err)
				mu.Lock()
				unhealthy++
				if count > hardErrorCeiling {
					dead = append(dead, c)
				}
				mu.Unlock()
				return
			}

			c.probeSuccess()
			mu.Lock()
			healthy++
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	if len(dead) > 0 {
		p.mu.Lock()
		for _, c := range dead {
			if _, ok := p.conns[c.id]; ok {
				delete(p.conns, c.id)
				c.Close()
			}
		}
		p.updateGauges()
		p.mu.Unlock()
		log.Printf("[prober] evicted %d connections past the error ceiling", len(dead))
	}

	return healthy, unhealthy
}
