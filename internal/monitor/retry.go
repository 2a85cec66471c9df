package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// TimeoutError reports that a monitored query lost the race against its
// configured timeout.
type TimeoutError struct {
	Query   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query %q timed out after %s", e.Query, e.Timeout)
}

// IsTimeout reports whether err is a monitored-query timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// queryOptions bound a monitored query's retry behavior.
type queryOptions struct {
	retries int
	timeout time.Duration
}

// QueryOption customizes MonitoredQuery.
type QueryOption func(*queryOptions)

// WithRetries sets the total number of attempts (default 3).
func WithRetries(n int) QueryOption {
	return func(o *queryOptions) { o.retries = n }
}

// WithTimeout sets the per-attempt timeout (default 30s).
func WithTimeout(d time.Duration) QueryOption {
	return func(o *queryOptions) { o.timeout = d }
}

// MonitoredQuery races fn against the configured timeout and retries
// transient failures with capped exponential backoff. Only the final
// outcome is recorded: a success on any attempt, or the last failure
// after all attempts are exhausted.
func (m *Monitor) MonitoredQuery(ctx context.Context, name string, fn func(ctx context.Context) error, opts ...QueryOption) error {
	o := queryOptions{retries: 3, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.retries < 1 {
		o.retries = 1
	}

	var lastErr error
	var lastElapsed time.Duration

	for attempt := 1; attempt <= o.retries; attempt++ {
		start := time.Now()
		err := m.runWithTimeout(ctx, name, o.timeout, fn)
		elapsed := time.Since(start)

		if err == nil {
			m.RecordQuery(name, elapsed, true, 0, "")
			return nil
		}

		lastErr = err
		lastElapsed = elapsed

		// External cancellation is not retried.
		if ctx.Err() != nil {
			break
		}

		if attempt < o.retries {
			delay := m.backoffDelay(attempt)
			log.Printf("[monitor] query %q attempt %d/%d failed (%v), retrying in %s",
				name, attempt, o.retries, err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = o.retries // stop retrying
			}
		}
	}

	m.RecordQuery(name, lastElapsed, false, 0, lastErr.Error())
	return lastErr
}

// runWithTimeout runs fn, rejecting with a TimeoutError if the timer fires
// first. fn is expected to honor ctx cancellation; the result of a late
// finisher is discarded.
func (m *Monitor) runWithTimeout(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TimeoutError{Query: name, Timeout: timeout}
	}
}

// backoffDelay returns min(base * 2^(attempt-1), cap).
func (m *Monitor) backoffDelay(attempt int) time.Duration {
	delay := m.backoffBase << (attempt - 1)
	if delay > m.backoffCap {
		delay = m.backoffCap
	}
	return delay
}
