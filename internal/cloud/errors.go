package cloud

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrUnauthorized is returned when the API rejects the bearer token
	// even after one refresh-and-retry.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited is returned on HTTP 429. Callers may retry with backoff.
	ErrRateLimited = errors.New("rate limited")
	// ErrRemoteRejected is returned for any other non-2xx response.
	ErrRemoteRejected = errors.New("remote rejected request")
	// ErrTransport is returned for connection-level failures and timeouts.
	ErrTransport = errors.New("transport error")
)

// APIError is a non-2xx response from the vendor API.
type APIError struct {
	Op          string
	StatusCode  int
	Description string
	// RetryAfter is the server-requested delay on 429, if any.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// Unwrap maps the status code onto the package's error classes.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrRemoteRejected
	}
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimited)
}
