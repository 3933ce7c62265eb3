package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retry runs fn up to attempts times, waiting the next delay of b between
// failures. It returns nil on the first success, and the last error once the
// attempts are spent or ctx is cancelled.
func Retry(ctx context.Context, name string, attempts int, b Backoff, fn func() error) error {
	if attempts <= 0 {
		attempts = 3
	}
	logger := slog.Default().With("component", "retry", "operation", name)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
		delay := b.Next()
		logger.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", lastErr,
			"next_delay", delay,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
	}
	return fmt.Errorf("all %d attempts failed for %s: %w", attempts, name, lastErr)
}
