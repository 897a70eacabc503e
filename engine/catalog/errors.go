package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for catalog failures.
var (
	ErrNotFound    = errors.New("catalog: not found")
	ErrAuth        = errors.New("catalog: authentication failed")
	ErrRateLimited = errors.New("catalog: rate limited")
)

// StatusError is a non-2xx response from the catalog.
type StatusError struct {
	Endpoint   string
	Code       int
	RetryAfter time.Duration // from Retry-After on 429
	Wrapped    error         // one of the sentinels, or nil
}

func (e *StatusError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: http %d from %s", e.Wrapped, e.Code, e.Endpoint)
	}
	return fmt.Sprintf("catalog: http %d from %s", e.Code, e.Endpoint)
}

func (e *StatusError) Unwrap() error { return e.Wrapped }

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 500
}

// retryAfter extracts the server's Retry-After hint.
func retryAfter(err error) (time.Duration, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}
	return 0, false
}

// countsAgainstBreaker is true for failures that suggest the service is
// unhealthy, as opposed to answers about a particular request.
func countsAgainstBreaker(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRateLimited), errors.Is(err, ErrAuth):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}
