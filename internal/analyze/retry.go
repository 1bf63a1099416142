package analyze

import (
	"context"
	"fmt"
	"time"
)

// WithRetry executes fn with exponential backoff, retrying only transient
// failures (timeout, unreachable). Invalid-response failures and other
// errors return immediately: repeating the same request cannot fix them.
// If the context is cancelled, the context error is returned at once.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	multiplier := cfg.Multiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
