package errors

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ClassifyHTTPError determines how an HTTP failure is retried:
//   - 401 needs a token refresh
//   - 429 needs a long pause
//   - 408 and 5xx are transient
//   - remaining 4xx are permanent
func ClassifyHTTPError(statusCode int, body string, underlyingErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:   getHTTPErrorCategory(statusCode),
		StatusCode: statusCode,
		Body:       body,
		Underlying: underlyingErr,
	}
}

// getHTTPErrorCategory maps HTTP status codes to error categories.
func getHTTPErrorCategory(statusCode int) ErrorCategory {
	switch {
	case statusCode == http.StatusUnauthorized:
		return AuthExpired
	case statusCode == http.StatusTooManyRequests:
		return RateLimited
	case statusCode == http.StatusRequestTimeout:
		return Transient
	case statusCode >= 400 && statusCode < 500:
		return Permanent
	default:
		// 5xx and anything unexpected: be conservative and retry
		return Transient
	}
}

// NewHTTPError creates a classified error for HTTP failures.
func NewHTTPError(statusCode int, body string, operation string) *ClassifiedError {
	underlyingErr := fmt.Errorf("%s failed: HTTP %d", operation, statusCode)
	return ClassifyHTTPError(statusCode, body, underlyingErr)
}

// WithRetryAfter parses a Retry-After header value (seconds or HTTP date).
func (e *ClassifiedError) WithRetryAfter(header string, now time.Time) *ClassifiedError {
	header = strings.TrimSpace(header)
	if header == "" {
		return e
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
		return e
	}
	if at, err := http.ParseTime(header); err == nil && at.After(now) {
		e.RetryAfter = at.Sub(now)
	}
	return e
}

// NewNetworkError creates a classified error for network-level failures.
// Network errors are always transient.
func NewNetworkError(operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   Transient,
		Underlying: fmt.Errorf("%s network error: %w", operation, err),
	}
}

// NewValidationError marks a payload rejected before it left the device.
func NewValidationError(operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   Permanent,
		Underlying: fmt.Errorf("%s invalid payload: %w", operation, err),
	}
}
