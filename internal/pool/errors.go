package pool

import (
	"errors"
	"fmt"
	"time"

	"github.com/joao-brasil/resilient-db-pool/pkg/target"
)

// ErrorKind classifies a pool error.
type ErrorKind int

const (
	// ErrorCreate means the driver connect or initial liveness check failed.
	ErrorCreate ErrorKind = iota
	// ErrorAcquireTimeout means a waiting request exceeded its deadline.
	ErrorAcquireTimeout
	// ErrorExhausted means the acquisition queue is at max depth.
	ErrorExhausted
	// ErrorClosed means the pool has been shut down.
	ErrorClosed
)

// Error provides structured information for pool failures.
type Error struct {
	Kind     ErrorKind
	Role     target.Role
	Wait     time.Duration // how long the request waited (ErrorAcquireTimeout)
	Timeout  time.Duration // configured acquire timeout (ErrorAcquireTimeout)
	Depth    int           // current queue depth (ErrorExhausted)
	MaxDepth int           // configured queue cap (ErrorExhausted)
	Err      error         // underlying cause (ErrorCreate)
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrorCreate:
		return fmt.Sprintf("creating %s connection: %v", e.Role, e.Err)
	case ErrorAcquireTimeout:
		return fmt.Sprintf("acquire timeout for role %s (waited=%v, timeout=%v)",
			e.Role, e.Wait, e.Timeout)
	case ErrorExhausted:
		return fmt.Sprintf("pool exhausted for role %s (queue depth=%d, max=%d)",
			e.Role, e.Depth, e.MaxDepth)
	case ErrorClosed:
		return "pool is closed"
	default:
		return fmt.Sprintf("pool error for role %s", e.Role)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsAcquireTimeout checks if the error is an acquisition deadline expiry.
func IsAcquireTimeout(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == ErrorAcquireTimeout
}

// IsExhausted checks if the error is a queue-full rejection.
func IsExhausted(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == ErrorExhausted
}

// IsClosed checks if the error is a shut-down pool rejection.
func IsClosed(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == ErrorClosed
}

// IsCreateFailure checks if the error is a connection creation failure.
func IsCreateFailure(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == ErrorCreate
}
