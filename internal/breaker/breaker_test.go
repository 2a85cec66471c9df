package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend unavailable")

func failing() error { return errBackend }
func succeeding() error { return nil }

func TestOpensAfterThreshold(t *testing.T) {
	b := New("test", 3, 50*time.Millisecond, time.Minute)

	for i := 0; i < 3; i++ {
		err := b.Execute(failing)
		assert.ErrorIs(t, err, errBackend)
	}
	assert.Equal(t, StateOpen, b.State())
}

func TestFastFailsWhileOpen(t *testing.T) {
	b := New("test", 3, time.Minute, time.Minute)

	for i := 0; i < 3; i++ {
		_ = b.Execute(failing)
	}
	require.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Execute(func() error {
		invoked = true
		return nil
	})
	assert.True(t, IsOpen(err))
	assert.False(t, invoked, "wrapped function must not run while open")
}

func TestHalfOpenTrialSuccessCloses(t *testing.T) {
	b := New("test", 3, 20*time.Millisecond, time.Minute)

	for i := 0; i < 3; i++ {
		_ = b.Execute(failing)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	err := b.Execute(succeeding)
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestHalfOpenTrialFailureReopens(t *testing.T) {
	b := New("test", 3, 20*time.Millisecond, time.Minute)

	for i := 0; i < 3; i++ {
		_ = b.Execute(failing)
	}
	time.Sleep(30 * time.Millisecond)

	err := b.Execute(failing)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateOpen, b.State())

	// The cooldown clock restarted, so the next call fast-fails again.
	err = b.Execute(succeeding)
	assert.True(t, IsOpen(err))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("test", 3, time.Minute, time.Minute)

	_ = b.Execute(failing)
	_ = b.Execute(failing)
	require.Equal(t, 2, b.Failures())

	_ = b.Execute(succeeding)
	assert.Equal(t, 0, b.Failures())
	assert.Equal(t, StateClosed, b.State())
}

func TestFailuresOutsideWindowStartFresh(t *testing.T) {
	b := New("test", 3, time.Minute, 30*time.Millisecond)

	_ = b.Execute(failing)
	_ = b.Execute(failing)
	time.Sleep(40 * time.Millisecond)

	// Outside the monitoring window: count restarts at 1, circuit stays closed.
	_ = b.Execute(failing)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Failures())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
}
