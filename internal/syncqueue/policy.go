package syncqueue

import (
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	cerrors "github.com/lendbridge/contactsync/internal/errors"
)

// RetryPolicy decides when a failed operation runs again.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxAttempts rejects an operation after that many failures; 0 retries forever.
	MaxAttempts int
	// RateLimitDelay is the minimum wait after a 429.
	RateLimitDelay time.Duration
	// Jitter is the backoff randomization factor in [0,1).
	Jitter float64
}

// DefaultRetryPolicy mirrors the engine defaults: 5s doubling up to 5m, unlimited.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:      5 * time.Second,
		MaxDelay:       5 * time.Minute,
		RateLimitDelay: 30 * time.Second,
		Jitter:         0.2,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.RateLimitDelay <= 0 {
		p.RateLimitDelay = d.RateLimitDelay
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

// Backoff returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.Multiplier = 2
	exp.MaxInterval = p.MaxDelay
	exp.RandomizationFactor = p.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()

	wait := exp.NextBackOff()
	for i := 1; i < attempt; i++ {
		wait = exp.NextBackOff()
	}
	return wait
}

// decide classifies err after attempts failures: reject, or retry after wait.
func (p RetryPolicy) decide(err error, attempts int) (wait time.Duration, reject bool) {
	switch cerrors.CategoryOf(err) {
	case cerrors.Permanent:
		return 0, true
	case cerrors.RateLimited:
		if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
			return 0, true
		}
		return max(p.RateLimitDelay, cerrors.RetryAfterOf(err)), false
	default:
		if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
			return 0, true
		}
		return p.Backoff(attempts), false
	}
}
