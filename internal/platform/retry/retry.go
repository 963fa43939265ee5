// Package retry is the single retry-with-backoff loop shared by text
// extraction, OCR and index-readiness polling, so each call site carries only
// its attempt budget and predicate instead of its own loop.
package retry

import (
	"context"
	"time"

	"github.com/lexfind/lexfind-backend/internal/platform/httpx"
)

type Config struct {
	// MaxAttempts counts the first try: MaxAttempts=3 means 2 retries.
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil means httpx.IsRetryableError.
	Retryable func(error) bool
	// Sleep is swapped out in tests. Nil means a jittered real sleep.
	Sleep func(time.Duration)
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.Retryable == nil {
		c.Retryable = httpx.IsRetryableError
	}
	if c.Sleep == nil {
		c.Sleep = func(d time.Duration) { time.Sleep(httpx.JitterSleep(d)) }
	}
	return c
}

// Do runs fn up to cfg.MaxAttempts times with exponential backoff between
// attempts. It stops early when the error is not retryable or the context is
// done, and always returns the last error observed.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.normalized()

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts || !cfg.Retryable(lastErr) {
			return lastErr
		}
		cfg.Sleep(delay)
		delay *= 2
	}
	return lastErr
}

// Always treats every error as retryable. Used where the caller has already
// decided the operation is worth its full attempt budget (e.g. OCR).
func Always(error) bool { return true }
