package domain

import (
	"context"
	"errors"
)

// Canonical error kinds. Every error that crosses a component boundary wraps
// exactly one of these sentinels so callers can classify with errors.Is
// without knowing which venue produced it.
var (
	ErrAuth               = errors.New("authentication rejected or expired")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrNetwork            = errors.New("network failure")
	ErrValidation         = errors.New("invalid request parameters")
	ErrExchangeRejected   = errors.New("rejected by exchange")
	ErrSerialization      = errors.New("response did not match expected schema")
	ErrStreamDisconnected = errors.New("stream disconnected")
	ErrTimeout            = errors.New("request timed out")
	ErrNotFound           = errors.New("not found")
	ErrNotSupported       = errors.New("not supported by venue")
)

// Transient reports whether err is worth retrying. Network failures and
// timeouts always are; a local rate-limit denial is retryable after the
// bucket refills. Validation errors, exchange rejections, and auth failures
// never are (auth gets one re-authentication pass in the dispatcher instead).
func Transient(err error) bool {
	switch {
	case errors.Is(err, ErrNetwork),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrStreamDisconnected),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

// Terminal reports whether err should stop a retry loop immediately.
func Terminal(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrExchangeRejected) ||
		errors.Is(err, context.Canceled)
}
