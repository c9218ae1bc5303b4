package dispatch

import (
	"context"
	"errors"
)

// Errors returned to callers of Dispatch and Reset.
var (
	// ErrEmptyMessage means the message was blank after trimming.
	ErrEmptyMessage = errors.New("dispatch: empty message")

	// ErrBusy means another dispatch is in flight. The message was dropped.
	ErrBusy = errors.New("dispatch: already processing")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("dispatch: invalid configuration")

	// ErrNoEndpoint means the engine runs in offline mode.
	ErrNoEndpoint = errors.New("dispatch: no endpoint configured")
)

// Attempt-level errors. They are logged, traced and counted, but never leave
// Dispatch.
var (
	ErrRateLimit         = errors.New("dispatch: rate limited")
	ErrMethodNotAllowed  = errors.New("dispatch: method not allowed")
	ErrUnexpectedStatus  = errors.New("dispatch: unexpected status")
	ErrBackendDown       = errors.New("dispatch: backend unreachable")
	ErrMalformedResponse = errors.New("dispatch: malformed response")
	ErrNoText            = errors.New("dispatch: no usable text in response")
)

// attemptLabel maps an attempt error to a short metric label.
func attemptLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimit):
		return "rate_limited"
	case errors.Is(err, ErrMethodNotAllowed):
		return "method_not_allowed"
	case errors.Is(err, ErrUnexpectedStatus):
		return "unexpected_status"
	case errors.Is(err, ErrBackendDown):
		return "unreachable"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrNoText):
		return "no_text"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
