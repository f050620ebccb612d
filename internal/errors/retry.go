package errors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig is an exponential backoff for retryable errors.
type RetryConfig struct {
	// MaxRetries excludes the first attempt.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig waits out short local contention, such as a rebuild
// lock another process is about to release.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// delay is the pause before retry n (0-based), with up to 20% jitter so
// processes contending for one lock do not retry in step.
func (c RetryConfig) delay(n int) time.Duration {
	d := float64(c.InitialDelay)
	for range n {
		d *= c.Multiplier
		if d >= float64(c.MaxDelay) {
			d = float64(c.MaxDelay)
			break
		}
	}
	return time.Duration(d * (0.8 + 0.2*rand.Float64()))
}

// Retry calls fn until it succeeds, returns an error IsRetryable rejects,
// or MaxRetries retries are used up. The last error stays in the chain.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			return fmt.Errorf("gave up after %d attempts: %w", attempt+1, err)
		}

		t := time.NewTimer(cfg.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
