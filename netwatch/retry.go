package netwatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryConfig bounds the exponential backoff of a retried operation.
type RetryConfig struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// RateLimitedError signals an HTTP 429 carrying a Retry-After delay. The
// retry loop waits that long before the next attempt instead of backing off.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Retry runs fn up to cfg.Attempts times with exponential backoff between
// failures, honoring Retry-After on rate-limit responses. The last error is
// returned when every attempt fails.
func Retry(ctx context.Context, cfg RetryConfig, action string, logger *zap.Logger, fn func() error) error {
	delay := cfg.Base
	var lastErr error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		logger.Warn("Attempt failed",
			zap.String("action", action),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.Attempts),
			zap.Error(lastErr))

		if attempt == cfg.Attempts {
			break
		}

		wait := delay
		var rl *RateLimitedError
		if errors.As(lastErr, &rl) && rl.RetryAfter > 0 {
			wait = rl.RetryAfter
			logger.Warn("Rate limited, honoring Retry-After",
				zap.String("action", action),
				zap.Duration("wait", wait))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if delay > cfg.Max {
			delay = cfg.Max
		}
	}

	return fmt.Errorf("%s: all %d attempts failed: %w", action, cfg.Attempts, lastErr)
}
