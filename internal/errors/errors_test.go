package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestClassifyHTTPError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status int
		want   ErrorCategory
	}{
		{http.StatusBadRequest, Permanent},
		{http.StatusNotFound, Permanent},
		{http.StatusConflict, Permanent},
		{http.StatusUnprocessableEntity, Permanent},
		{http.StatusUnauthorized, AuthExpired},
		{http.StatusTooManyRequests, RateLimited},
		{http.StatusRequestTimeout, Transient},
		{http.StatusInternalServerError, Transient},
		{http.StatusServiceUnavailable, Transient},
		{302, Transient},
	}
	for _, c := range cases {
		got := NewHTTPError(c.status, "", "op").Category
		if got != c.want {
			t.Fatalf("status %d: expected %s, got %s", c.status, c.want, got)
		}
	}
}

func TestCategoryOf_WrappedAndPlain(t *testing.T) {
	t.Parallel()
	wrapped := fmt.Errorf("reconcile: %w", NewHTTPError(422, "bad", "create"))
	if !IsPermanent(wrapped) {
		t.Fatalf("expected wrapped 422 to be permanent")
	}
	if CategoryOf(stderrors.New("dial tcp: refused")) != Transient {
		t.Fatalf("plain errors must default to transient")
	}
	if IsPermanent(nil) || IsAuthExpired(nil) || IsRateLimited(nil) {
		t.Fatalf("nil error must not match any category")
	}
}

func TestNetworkAndValidationErrors(t *testing.T) {
	t.Parallel()
	base := stderrors.New("connection reset")
	ne := NewNetworkError("create contact", base)
	if ne.Category != Transient || !stderrors.Is(ne, base) {
		t.Fatalf("network error should be transient and unwrap: %v", ne)
	}
	ve := NewValidationError("create contact", stderrors.New("missing phone"))
	if !IsPermanent(ve) {
		t.Fatalf("validation error should be permanent")
	}
}

func TestWithRetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	e := NewHTTPError(429, "", "bulk").WithRetryAfter("12", now)
	if e.RetryAfter != 12*time.Second || RetryAfterOf(e) != 12*time.Second {
		t.Fatalf("expected 12s, got %v", e.RetryAfter)
	}

	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	e = NewHTTPError(429, "", "bulk").WithRetryAfter(date, now)
	if e.RetryAfter != 90*time.Second {
		t.Fatalf("expected 90s, got %v", e.RetryAfter)
	}

	e = NewHTTPError(429, "", "bulk").WithRetryAfter("garbage", now)
	if e.RetryAfter != 0 {
		t.Fatalf("expected no hint, got %v", e.RetryAfter)
	}
}
