// Package retry provides bounded exponential backoff for remote host calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	relayerrors "github.com/p-blackswan/relay/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	// RetryIf decides whether an error is worth another attempt. Nil
	// means relayerrors.IsRetryable, which excludes quota exhaustion —
	// the host told us when to come back, hammering it sooner only
	// burns the window.
	RetryIf func(error) bool
}

// DefaultConfig returns sensible retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      true,
	}
}

func (c Config) shouldRetry(err error) bool {
	if c.RetryIf != nil {
		return c.RetryIf(err)
	}
	return relayerrors.IsRetryable(err)
}

func (c Config) delay(attempt int) time.Duration {
	d := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(attempt)))
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
	}
	return d
}

// Do executes fn, backing off between attempts until it succeeds, the
// error stops being retryable, or the attempt budget runs out.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if !cfg.shouldRetry(lastErr) || attempt == cfg.MaxAttempts-1 {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.delay(attempt)):
		}
	}
	return lastErr
}
