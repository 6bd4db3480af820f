package invidious

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConfigured is returned when no Invidious instance is set or it is disabled.
var ErrNotConfigured = errors.New("invidious instance not configured")

// ErrResponseTooLarge is returned when a body exceeds Client.MaxBodyBytes.
var ErrResponseTooLarge = errors.New("invidious response too large")

// StatusError is a non-2xx response from the instance.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("invidious: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("invidious: HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is transient.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ConnectionError is a transport failure or timeout. It is always retryable.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "invidious: request failed: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// DecodeError is a response body that could not be parsed. It is never retried.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invidious: decode %s: %v", e.Endpoint, e.Err)
}
func (e *DecodeError) Unwrap() error { return e.Err }

// RetryError reports how many attempts were made before giving up.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%v (after %d attempts)", e.Err, e.Attempts)
}
func (e *RetryError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// StatusCode extracts the HTTP status of err, or 0 when it is not a StatusError.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
