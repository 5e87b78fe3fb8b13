package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/casaflow/utility-recon/internal/portal"
)

func TestBackoff_ExponentialAndCapped(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  8 * time.Second,
		Jitter:      false,
	}

	assert.Equal(t, 1*time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, 8*time.Second, p.Backoff(5)) // capped
}

func TestBackoff_JitterStaysBounded(t *testing.T) {
	p := DefaultRetryPolicy()

	for attempt := 1; attempt <= 4; attempt++ {
		for i := 0; i < 50; i++ {
			b := p.Backoff(attempt)
			assert.GreaterOrEqual(t, b, p.BaseBackoff)
			assert.LessOrEqual(t, b, p.MaxBackoff+p.MaxBackoff/10)
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"authentication", &portal.AuthenticationError{Cause: errors.New("bad password")}, false},
		{"empty result", portal.ErrEmptyResult, false},
		{"plain unknown error", errors.New("unexpected response shape"), false},
		{"ui error", &portal.UIError{Op: "search", Attempts: 3, Cause: errors.New("layout drift")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"timeout text", errors.New("portal request timeout"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
