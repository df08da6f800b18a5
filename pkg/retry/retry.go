// Package retry implements the generic full-jitter exponential backoff
// loop that drives every retryable operation in this module.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/solana-tx-kit/txkit/pkg/txerrors"
)

// Context is passed to each attempt.
type Context struct {
	Attempt        int
	TotalAttempts  int
	Elapsed        time.Duration
	LastError      error
}

// Predicate decides whether err should be retried. When set on Config it
// is authoritative and overrides the default classifier.
type Predicate func(err error) bool

// OnRetry is invoked before sleeping, once a retry has been decided.
type OnRetry func(ctx context.Context, err error, attempt int, delay time.Duration)

// Config configures a call to Do.
type Config struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	RetryPredicate    Predicate
	OnRetry           OnRetry
}

// DefaultConfig mirrors spec.md §6's retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
	}
}

// Do runs fn under the full-jitter exponential backoff loop described by
// spec.md §4.7. At most MaxRetries+1 invocations of fn occur.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context, rc Context) error) error {
	d := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = d.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = d.MaxDelay
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = d.BackoffMultiplier
	}

	totalAttempts := cfg.MaxRetries + 1
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < totalAttempts; attempt++ {
		rc := Context{
			Attempt:       attempt,
			TotalAttempts: totalAttempts,
			Elapsed:       time.Since(start),
			LastError:     lastErr,
		}

		err := fn(ctx, rc)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == cfg.MaxRetries {
			return txerrors.New(txerrors.CodeRetriesExhausted, "retries exhausted").WithCause(lastErr)
		}

		retryable := classify(cfg.RetryPredicate, err)
		if !retryable {
			return txerrors.New(txerrors.CodeNonRetryable, "non-retryable error").WithCause(err)
		}

		capped := cappedDelay(cfg.BaseDelay, cfg.BackoffMultiplier, cfg.MaxDelay, attempt)
		delay := fullJitter(capped)

		if cfg.OnRetry != nil {
			cfg.OnRetry(ctx, err, attempt, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return txerrors.New(txerrors.CodeRetriesExhausted, "retries exhausted").WithCause(lastErr)
}

func classify(predicate Predicate, err error) bool {
	if predicate != nil {
		return predicate(err)
	}
	return txerrors.Classify(err).Retryable
}

// cappedDelay computes min(maxDelay, baseDelay * multiplier^attempt).
func cappedDelay(base time.Duration, multiplier float64, max time.Duration, attempt int) time.Duration {
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= multiplier
	}
	if time.Duration(d) > max || d > float64(max) {
		return max
	}
	return time.Duration(d)
}

// fullJitter returns uniform(0, capped).
func fullJitter(capped time.Duration) time.Duration {
	if capped <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(capped)))
}
