// Package retry provides retry logic with a configurable delay schedule for transient failures.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts int
	Delays      []time.Duration
}

// delay returns the wait before the given attempt (1-based retry count).
// The last delay is reused once the schedule runs out.
func (c Config) delay(attempt int) time.Duration {
	if len(c.Delays) == 0 {
		return 0
	}
	i := attempt - 1
	if i >= len(c.Delays) {
		i = len(c.Delays) - 1
	}
	return c.Delays[i]
}

// WithRetry executes fn up to MaxAttempts times, waiting between attempts.
func WithRetry(ctx context.Context, cfg Config, fn func() error) error {
	return WithRetryIf(ctx, cfg, nil, fn)
}

// WithRetryIf is WithRetry with a predicate deciding whether an error is worth
// another attempt. A nil predicate retries every error. Errors the predicate
// rejects are returned immediately, unwrapped.
func WithRetryIf(ctx context.Context, cfg Config, retryable func(error) bool, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(cfg.delay(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
