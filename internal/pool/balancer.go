package pool

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Balancer picks a read replica for a new connection. It receives the
// current number of live connections per replica and returns the index
// of the chosen one.
type Balancer interface {
	Pick(loads []int) int
}

// NewBalancer constructs the balancer named by the routing strategy.
func NewBalancer(strategy string) (Balancer, error) {
	switch strategy {
	case "random":
		return &randomBalancer{}, nil
	case "round_robin":
		return &roundRobinBalancer{}, nil
	case "least_loaded":
		return &leastLoadedBalancer{}, nil
	default:
		return nil, fmt.Errorf("unknown balancer strategy %q", strategy)
	}
}

// randomBalancer picks a replica uniformly at random.
type randomBalancer struct{}

func (randomBalancer) Pick(loads []int) int {
	return rand.IntN(len(loads))
}

// roundRobinBalancer cycles through replicas in order.
type roundRobinBalancer struct {
	mu   sync.Mutex
	next int
}

func (b *roundRobinBalancer) Pick(loads []int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.next % len(loads)
	b.next++
	return i
}

// leastLoadedBalancer picks the replica with the fewest live connections.
type leastLoadedBalancer struct{}

func (leastLoadedBalancer) Pick(loads []int) int {
	best := 0
	for i, n := range loads {
		if n < loads[best] {
			best = i
		}
	}
	return best
}
