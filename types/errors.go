package types

import (
	"errors"
	"fmt"
	"time"
)

// NetworkError is the terminal error returned by the connection manager
// after exhausting connect attempts. It wraps the last underlying cause;
// intermediate transient failures are retried and never surfaced.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError marks a permanent input failure. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// CircuitOpenError is returned when a breaker rejects a call without
// invoking the wrapped function. RetryAfter is the remaining cooldown.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q is open, retry in %s", e.Service, e.RetryAfter.Round(time.Second))
}

// RateLimitError is returned when a sliding window is saturated.
// Permanent for this call; the caller may retry after the window slides.
type RateLimitError struct {
	MaxCalls int
	Window   time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: max %d calls per %s", e.MaxCalls, e.Window)
}

// TimeoutError marks a sandboxed execution that exceeded its wall-clock
// limit. The result is discarded; the worker may still be running.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution exceeded %s timeout, result discarded", e.Limit)
}

// ExecutionError wraps a failure raised by sandboxed code or a host
// handler. Output holds anything captured before the failure.
type ExecutionError struct {
	Msg    string
	Output string
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsRetryable reports whether an error is worth retrying at the
// connection layer. Only transient network failures qualify.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
