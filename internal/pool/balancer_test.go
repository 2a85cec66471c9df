package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobinCycles(t *testing.T) {
	b, err := NewBalancer("round_robin")
	require.NoError(t, err)

	loads := []int{0, 0, 0}
	got := []int{
		b.Pick(loads), b.Pick(loads), b.Pick(loads),
		b.Pick(loads), b.Pick(loads), b.Pick(loads),
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, got)
}

func TestLeastLoadedPicksMinimum(t *testing.T) {
	b, err := NewBalancer("least_loaded")
	require.NoError(t, err)

	assert.Equal(t, 2, b.Pick([]int{3, 1, 0, 5}))
	assert.Equal(t, 0, b.Pick([]int{0, 0, 0}), "ties go to the first replica")
}

func TestRandomStaysInRange(t *testing.T) {
	b, err := NewBalancer("random")
	require.NoError(t, err)

	loads := []int{0, 0, 0}
	for i := 0; i < 100; i++ {
		got := b.Pick(loads)
		require.GreaterOrEqual(t, got, 0)
		require.Less(t, got, len(loads))
	}
}

func TestUnknownStrategyRejected(t *testing.T) {
	_, err := NewBalancer("weighted")
	assert.Error(t, err)
}
