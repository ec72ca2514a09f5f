// Package types defines the shared wire envelopes and error taxonomy
// for the hostbridge command/control protocol.
package types

import (
	"context"
	"errors"
	"fmt"
)

// Status values for a Response.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Symbolic error codes carried in ErrorInfo.Code.
const (
	CodeBadRequest     = "bad_request"
	CodeUnknownCommand = "unknown_command"
	CodeRuntimeError   = "runtime_error"
	CodeValidation     = "validation_error"
	CodeCircuitOpen    = "circuit_open"
	CodeRateLimited    = "rate_limited"
	CodeTimeout        = "timeout"
	CodeNetwork        = "network_error"
	CodeCancelled      = "cancelled"
)

// Command is the request envelope. Type selects a registered handler;
// Params carries JSON-compatible arguments only.
type Command struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// ErrorInfo is the structured error block of an error Response.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Response is the result envelope. Exactly one Response is emitted per
// well-formed Command on a connection.
type Response struct {
	Status  string     `json:"status"`
	Result  any        `json:"result,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// Success builds a success response around a result value.
func Success(result any) Response {
	return Response{Status: StatusSuccess, Result: result}
}

// Errorf builds an error response with a symbolic code and formatted message.
func Errorf(code, format string, args ...any) Response {
	msg := fmt.Sprintf(format, args...)
	return Response{
		Status:  StatusError,
		Message: msg,
		Error:   &ErrorInfo{Code: code, Message: msg},
	}
}

// FromError maps an error from the taxonomy onto an error response.
// Unrecognized errors become runtime_error with the bare message; callers
// are expected to have logged full detail before reaching the wire.
func FromError(err error) Response {
	resp := Response{Status: StatusError, Message: err.Error()}

	info := &ErrorInfo{Code: CodeRuntimeError, Message: err.Error()}

	var (
		netErr  *NetworkError
		valErr  *ValidationError
		openErr *CircuitOpenError
		rateErr *RateLimitError
		toErr   *TimeoutError
		execErr *ExecutionError
	)
	switch {
	case errors.As(err, &netErr):
		info.Code = CodeNetwork
		info.Data = map[string]any{"attempts": netErr.Attempts}
	case errors.As(err, &valErr):
		info.Code = CodeValidation
	case errors.As(err, &openErr):
		info.Code = CodeCircuitOpen
		info.Data = map[string]any{
			"service":             openErr.Service,
			"retry_after_seconds": int(openErr.RetryAfter.Seconds()),
		}
	case errors.As(err, &rateErr):
		info.Code = CodeRateLimited
		info.Data = map[string]any{
			"max_calls":      rateErr.MaxCalls,
			"window_seconds": int(rateErr.Window.Seconds()),
		}
	case errors.As(err, &toErr):
		info.Code = CodeTimeout
		info.Data = map[string]any{"limit_seconds": toErr.Limit.Seconds()}
	case errors.As(err, &execErr):
		info.Code = CodeRuntimeError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		info.Code = CodeCancelled
	}

	resp.Error = info
	return resp
}

// IsError reports whether the response carries an error status.
func (r *Response) IsError() bool {
	return r.Status == StatusError
}
