package collaborator

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error is the unified error interface returned by collaborator adapters.
// Retryable errors are retried with backoff up to the retry policy's limit;
// the rest fail the current file's task immediately.
type Error interface {
	error
	StatusCode() int
	Retryable() bool
	RetryAfter() *time.Duration
}

// ConfigurationError reports a collaborator that cannot be used at all
// (missing API key, no model). It is fatal for the whole run.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "collaborator configuration error: " + strings.TrimSpace(e.Message)
}
func (e *ConfigurationError) StatusCode() int            { return 0 }
func (e *ConfigurationError) Retryable() bool            { return false }
func (e *ConfigurationError) RetryAfter() *time.Duration { return nil }

// TransportError wraps network-level failures (connection refused, request
// timeout). Always retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string              { return "collaborator transport error: " + e.Err.Error() }
func (e *TransportError) Unwrap() error              { return e.Err }
func (e *TransportError) StatusCode() int            { return 0 }
func (e *TransportError) Retryable() bool            { return true }
func (e *TransportError) RetryAfter() *time.Duration { return nil }

// MalformedResponseError reports a response the adapter could not use: no
// choices, empty content, undecodable body. Retryable, since generation is
// non-deterministic.
type MalformedResponseError struct {
	Message string
}

func (e *MalformedResponseError) Error() string {
	return "collaborator returned unusable response: " + e.Message
}
func (e *MalformedResponseError) StatusCode() int            { return 0 }
func (e *MalformedResponseError) Retryable() bool            { return true }
func (e *MalformedResponseError) RetryAfter() *time.Duration { return nil }

type httpErrorBase struct {
	statusCode int
	message    string
	retryable  bool
	retryAfter *time.Duration
}

func (e *httpErrorBase) Error() string {
	msg := strings.TrimSpace(e.message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("collaborator error (status=%d): %s", e.statusCode, msg)
}
func (e *httpErrorBase) StatusCode() int            { return e.statusCode }
func (e *httpErrorBase) Retryable() bool            { return e.retryable }
func (e *httpErrorBase) RetryAfter() *time.Duration { return e.retryAfter }

type InvalidRequestError struct{ httpErrorBase }
type AuthenticationError struct{ httpErrorBase }
type RequestTimeoutError struct{ httpErrorBase }
type RateLimitError struct{ httpErrorBase }
type ServerError struct{ httpErrorBase }
type UnknownHTTPError struct{ httpErrorBase }

// ErrorFromHTTPStatus classifies an HTTP failure from the collaborator API.
func ErrorFromHTTPStatus(statusCode int, message string, retryAfter *time.Duration) error {
	base := httpErrorBase{statusCode: statusCode, message: message, retryAfter: retryAfter}
	switch statusCode {
	case 400, 404, 422:
		base.retryable = false
		return &InvalidRequestError{base}
	case 401, 403:
		base.retryable = false
		return &AuthenticationError{base}
	case 408:
		base.retryable = true
		return &RequestTimeoutError{base}
	case 429:
		base.retryable = true
		return &RateLimitError{base}
	case 500, 502, 503, 504:
		base.retryable = true
		return &ServerError{base}
	default:
		base.retryable = true
		return &UnknownHTTPError{base}
	}
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	var cerr Error
	if errors.As(err, &cerr) {
		return cerr.Retryable()
	}
	return false
}
