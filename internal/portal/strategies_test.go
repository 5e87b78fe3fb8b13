package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunStrategies_FirstSuccessWins(t *testing.T) {
	var ran []string
	strategies := []strategy{
		{name: "v1", run: func(ctx context.Context) error {
			ran = append(ran, "v1")
			return errors.New("layout changed")
		}},
		{name: "v2", run: func(ctx context.Context) error {
			ran = append(ran, "v2")
			return nil
		}},
		{name: "legacy", run: func(ctx context.Context) error {
			ran = append(ran, "legacy")
			return nil
		}},
	}

	err := runStrategies(context.Background(), "search", time.Second, zap.NewNop(), strategies)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, ran)
}

func TestRunStrategies_ExhaustionWrapsLastCause(t *testing.T) {
	cause := errors.New("selector not found")
	strategies := []strategy{
		{name: "v1", run: func(ctx context.Context) error { return errors.New("first failure") }},
		{name: "v2", run: func(ctx context.Context) error { return cause }},
	}

	err := runStrategies(context.Background(), "set_date_range", time.Second, zap.NewNop(), strategies)
	require.Error(t, err)

	var uiErr *UIError
	require.ErrorAs(t, err, &uiErr)
	assert.Equal(t, "set_date_range", uiErr.Op)
	assert.Equal(t, 2, uiErr.Attempts)
	assert.ErrorIs(t, err, cause)
}

func TestRunStrategies_AuthenticationAbortsImmediately(t *testing.T) {
	authErr := &AuthenticationError{Cause: errors.New("401")}
	calls := 0
	strategies := []strategy{
		{name: "v1", run: func(ctx context.Context) error { calls++; return authErr }},
		{name: "v2", run: func(ctx context.Context) error { calls++; return nil }},
	}

	err := runStrategies(context.Background(), "login", time.Second, zap.NewNop(), strategies)
	require.Error(t, err)
	assert.True(t, IsAuthenticationError(err))
	assert.Equal(t, 1, calls)
}

func TestRunStrategies_OuterCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	strategies := []strategy{
		{name: "v1", run: func(ctx context.Context) error {
			cancel()
			return errors.New("interrupted")
		}},
		{name: "v2", run: func(ctx context.Context) error {
			t.Fatal("must not run after cancellation")
			return nil
		}},
	}

	err := runStrategies(ctx, "search", time.Second, zap.NewNop(), strategies)
	require.Error(t, err)

	var uiErr *UIError
	require.ErrorAs(t, err, &uiErr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunStrategies_PerAttemptTimeout(t *testing.T) {
	strategies := []strategy{
		{name: "slow", run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{name: "fast", run: func(ctx context.Context) error { return nil }},
	}

	start := time.Now()
	err := runStrategies(context.Background(), "search", 20*time.Millisecond, zap.NewNop(), strategies)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
