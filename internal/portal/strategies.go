package portal

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// strategy is one way of performing a portal operation. The portal's
// structure drifts between releases, so each operation keeps an ordered list
// of known layouts and tries them oldest-known-good first.
type strategy struct {
	name string
	run  func(ctx context.Context) error
}

// runStrategies executes strategies in order with a per-attempt timeout.
// A strategy that times out or fails hands over to the next one; an
// AuthenticationError aborts immediately. When every strategy has been
// exhausted the last cause is wrapped in a *UIError.
func runStrategies(ctx context.Context, op string, timeout time.Duration, logger *zap.Logger, strategies []strategy) error {
	var lastErr error

	for _, s := range strategies {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := s.run(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if IsAuthenticationError(err) {
			return err
		}
		if ctx.Err() != nil {
			// The outer context is gone; further strategies cannot succeed.
			return &UIError{Op: op, Attempts: len(strategies), Cause: ctx.Err()}
		}

		lastErr = err
		logger.Debug("portal strategy failed, advancing to next",
			zap.String("op", op),
			zap.String("strategy", s.name),
			zap.Bool("timed_out", errors.Is(err, context.DeadlineExceeded)),
			zap.Error(err))
	}

	return &UIError{Op: op, Attempts: len(strategies), Cause: lastErr}
}
