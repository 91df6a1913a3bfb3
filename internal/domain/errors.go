package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRule       = errors.New("invalid rule")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrRateLimited       = errors.New("rate limited")
	ErrShuttingDown      = errors.New("shutting down")
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
)

// APIError carries the HTTP status of a failed outbound call so the executor
// can decide between retry and immediate failure.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("tracker api status %d", e.StatusCode)
	}
	return fmt.Sprintf("tracker api status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying: rate limiting and
// server-side errors are, other client errors are not.
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsTransient classifies an outbound failure for the retry path. Timeouts and
// rate-limit denials count alongside retryable HTTP statuses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return false
}
