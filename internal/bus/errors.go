package bus

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for bus operations.
var (
	ErrDepthExceeded   = errors.New("agent invocation depth exceeded")
	ErrTimeout         = errors.New("request timed out")
	ErrUnknownEndpoint = errors.New("no handler registered for endpoint")
	ErrEndpointExists  = errors.New("endpoint already registered")
	ErrClosed          = errors.New("message bus closed")
)

// TimeoutError is returned when no REPLY arrives before the request deadline.
type TimeoutError struct {
	To            string
	CorrelationID string
	After         time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s (correlation %s) timed out after %s", e.To, e.CorrelationID, e.After)
}

// Is lets errors.Is(err, ErrTimeout) match a *TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
