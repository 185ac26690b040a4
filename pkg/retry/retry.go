// Package retry provides exponential backoff for relay services: bounded
// retries of a single call (Do) and a stateful Backoff for long running loops.
package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/bardlex/gomp-relay/pkg/errors"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// ReconnectConfig returns the schedule used between receiver connection attempts.
// MaxAttempts is ignored by Backoff.
func ReconnectConfig() *Config {
	return &Config{
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// DrainConfig returns the schedule used by the retry queue drain loop while
// no receiver accepts messages.
func DrainConfig() *Config {
	return &Config{
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2.0,
		Jitter:     false,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// Do executes fn until it succeeds, returns a non-retryable error or runs out of attempts
func Do(ctx context.Context, config *Config, fn RetryableFunc) error {
	_, err := DoWithResult(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes a function with retry logic and returns a result
func DoWithResult[T any](ctx context.Context, config *Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	if config == nil {
		config = DefaultConfig()
	}

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}

		lastErr = err

		if !errors.IsRetryable(err) {
			return zero, err
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		if err := Sleep(ctx, config.Delay(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, errors.Wrap(lastErr, errors.ErrorTypeInternal, "retry",
		"operation failed after maximum retry attempts").
		WithContext("max_attempts", config.MaxAttempts)
}

// Delay calculates the delay for the given zero-based attempt
func (c *Config) Delay(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	delay = min(delay, float64(c.MaxDelay))

	if c.Jitter {
		// up to 10% on top
		delay += delay * 0.1 * rand.Float64()
	}

	return time.Duration(delay)
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff tracks consecutive failures of a loop and hands out growing delays.
// It is safe for concurrent use.
type Backoff struct {
	config *Config

	mu       sync.Mutex
	attempts int
}

// NewBackoff creates a Backoff following config. A nil config uses DefaultConfig.
func NewBackoff(config *Config) *Backoff {
	if config == nil {
		config = DefaultConfig()
	}
	return &Backoff{config: config}
}

// Next returns the delay before the next attempt and records a failure
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.config.Delay(b.attempts)
	// stop growing the exponent once the cap is reached
	if d < b.config.MaxDelay {
		b.attempts++
	}
	return d
}

// Reset clears the failure count after a success
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}

// Attempts returns the number of consecutive failures recorded
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
