package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// RateLimitError is returned when GitHub refuses a request because the quota
// is exhausted. Reset and RetryAfter are zero when the server did not send them.
type RateLimitError struct {
	StatusCode int
	Reset      time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	switch {
	case !e.Reset.IsZero():
		return fmt.Sprintf("github rate limit exceeded (status %d), resets at %s", e.StatusCode, e.Reset.UTC().Format(time.RFC3339))
	case e.RetryAfter > 0:
		return fmt.Sprintf("github rate limit exceeded (status %d), retry after %s", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("github rate limit exceeded (status %d)", e.StatusCode)
}

// RetryAt is the earliest moment a new request may succeed, zero if unknown.
func (e *RateLimitError) RetryAt(now time.Time) time.Time {
	if !e.Reset.IsZero() {
		return e.Reset
	}
	if e.RetryAfter > 0 {
		return now.Add(e.RetryAfter)
	}
	return time.Time{}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error %d: %s", e.StatusCode, e.Message)
}

// TransportError wraps failures that happened before an HTTP status was received.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}
