// Package errors classifies failures of remote reconciliation so the sync
// queue can pick a retry policy per failure kind.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCategory determines how errors should be handled by retry logic.
type ErrorCategory int

const (
	// Transient errors are retried with exponential backoff.
	// Examples: 500 Internal Server Error, network timeouts, connection failures.
	Transient ErrorCategory = iota

	// Permanent errors are surfaced to the user and never retried blindly.
	// Examples: 400 Bad Request, 404, 422, local schema validation.
	Permanent

	// AuthExpired means the bearer token must be refreshed before retrying (401).
	AuthExpired

	// RateLimited asks for a longer pause than the default backoff (429).
	RateLimited
)

// String returns a human-readable representation of the error category.
func (c ErrorCategory) String() string {
	switch c {
	case Transient:
		return "Transient"
	case Permanent:
		return "Permanent"
	case AuthExpired:
		return "AuthExpired"
	case RateLimited:
		return "RateLimited"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ClassifiedError wraps an error with categorization metadata for retry policies.
type ClassifiedError struct {
	Category   ErrorCategory
	StatusCode int           // HTTP status code (0 for non-HTTP errors)
	Body       string        // Response body for debugging
	RetryAfter time.Duration // server hint for RateLimited, zero when absent
	Underlying error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

// Unwrap returns the underlying error for error chain compatibility.
func (e *ClassifiedError) Unwrap() error {
	return e.Underlying
}

// CategoryOf reports the category of err. Unclassified errors are Transient:
// anything we cannot prove permanent is worth another attempt.
func CategoryOf(err error) ErrorCategory {
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce.Category
	}
	return Transient
}

// RetryAfterOf returns the server supplied retry hint, if any.
func RetryAfterOf(err error) time.Duration {
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce.RetryAfter
	}
	return 0
}

// IsPermanent returns true if the error should not be retried.
func IsPermanent(err error) bool {
	return err != nil && CategoryOf(err) == Permanent
}

// IsAuthExpired returns true for 401 responses.
func IsAuthExpired(err error) bool {
	return err != nil && CategoryOf(err) == AuthExpired
}

// IsRateLimited returns true for 429 responses.
func IsRateLimited(err error) bool {
	return err != nil && CategoryOf(err) == RateLimited
}
