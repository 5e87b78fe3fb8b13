package report

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/casaflow/utility-recon/internal/portal"
)

// RetryPolicy is the explicit retry value passed into the fetcher: bounded
// exponential backoff for transient portal failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      bool
}

// DefaultRetryPolicy returns the standard policy: 3 attempts, 1s base, 8s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  8 * time.Second,
		Jitter:      true,
	}
}

// Backoff returns the delay before the given attempt (1-based):
// 1s, 2s, 4s ... capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return p.BaseBackoff
	}

	multiplier := math.Pow(2, float64(attempt-1))
	backoff := time.Duration(multiplier) * p.BaseBackoff
	if backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}

	if p.Jitter {
		jitterRange := backoff / 10
		if jitterRange > 0 {
			jitter := time.Duration(rand.Intn(int(jitterRange*2))) - jitterRange
			backoff += jitter
			if backoff < p.BaseBackoff {
				backoff = p.BaseBackoff
			}
		}
	}
	return backoff
}

// IsTransient reports whether err is worth another attempt. Authentication
// failures and empty search results are never transient; UI drift, timeouts
// and network hiccups are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if portal.IsAuthenticationError(err) {
		return false
	}
	if errors.Is(err, portal.ErrEmptyResult) {
		return false
	}

	var uiErr *portal.UIError
	if errors.As(err, &uiErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "reset by peer") {
		return true
	}
	return false
}
