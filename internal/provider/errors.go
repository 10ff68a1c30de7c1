package provider

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Class buckets provider failures by HTTP status.
type Class string

const (
	ClassClientError       Class = "client_error"
	ClassServerError       Class = "server_error"
	ClassRateLimited       Class = "rate_limited"
	ClassExpiredCredential Class = "expired_credential"
)

// Classify maps an HTTP status to its error class. Transport failures with
// no status count as server errors.
func Classify(status int) Class {
	switch {
	case status == http.StatusUnauthorized:
		return ClassExpiredCredential
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status >= 400 && status < 500:
		return ClassClientError
	default:
		return ClassServerError
	}
}

// Error is a failed provider call.
type Error struct {
	StatusCode int
	Class      Class
	Message    string
	// RetryAfter is the provider's back-off hint on 429, if any.
	RetryAfter time.Duration
}

// NewError builds an Error classified from status.
func NewError(status int, msg string) *Error {
	return &Error{StatusCode: status, Class: Classify(status), Message: msg}
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("provider %s: %s", e.Class, e.Message)
	}
	return fmt.Sprintf("provider %s (status=%d): %s", e.Class, e.StatusCode, e.Message)
}

// Transient reports whether the call may succeed on retry.
func (e *Error) Transient() bool {
	return e.Class == ClassServerError || e.Class == ClassRateLimited
}

// IsTransient reports whether err carries a retryable provider error.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Transient()
}

// IsExpiredCredential reports whether err means the connection must be
// re-linked.
func IsExpiredCredential(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Class == ClassExpiredCredential
}
