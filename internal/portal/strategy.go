package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
)

// Attempt is one rung of a fallback ladder: a named way of producing a T.
type Attempt[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// TryEach runs attempts in order and returns the first success along with
// the name of the attempt that produced it. Failures are logged and the
// next rung is tried. When every rung fails the last error is returned.
func TryEach[T any](ctx context.Context, logger arbor.ILogger, attempts []Attempt[T]) (T, string, error) {
	var zero T
	var lastErr error

	for _, attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		result, err := attempt.Run(ctx)
		if err == nil {
			return result, attempt.Name, nil
		}
		lastErr = err
		logger.Debug().Err(err).Str("attempt", attempt.Name).Msg("Attempt failed, trying next")
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no attempts configured")
	}
	return zero, "", lastErr
}

// RetryConfig bounds a retried operation.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns conservative retry settings for portal calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
	}
}

// WithRetry runs operation with exponential backoff until it succeeds,
// retries are exhausted, or the context is cancelled.
func WithRetry(ctx context.Context, config RetryConfig, operation func(ctx context.Context) error) error {
	delay := config.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * config.Multiplier)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		if err := operation(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}
