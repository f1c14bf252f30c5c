package ai

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DoWithRetries executes op up to attempts times, each attempt bounded by
// perAttemptTimeout. Any error, including a deadline, is logged and the
// operation is retried immediately; no backoff is applied between attempts
// because this sits on the player-facing turn path. After the final attempt
// the last error is returned.
//
// Every external model call in the engine goes through this function; it is
// the only failure-isolation boundary between the engine and the generation
// services.
func DoWithRetries[T any](
	ctx context.Context,
	logger *zap.Logger,
	attempts int,
	perAttemptTimeout time.Duration,
	op func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		result, err := op(attemptCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		logger.Warn("Attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", attempts),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			// The parent context is gone, further attempts cannot succeed.
			break
		}
	}

	return zero, fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}
