package rcon

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ConnectionError means the server could not be reached, refused the
// password or broke the exchange.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rcon %s: connection failed: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError means the server did not answer within the query timeout.
type TimeoutError struct {
	Server string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rcon %s: no response within %s", e.Server, e.After)
}

func (e *TimeoutError) Timeout() bool { return true }

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
