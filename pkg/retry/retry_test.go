package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/solana-tx-kit/txkit/pkg/txerrors"
)

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, func(ctx context.Context, rc Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesExhaustedAfterAllAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context, rc Context) error {
		calls++
		return errors.New("ETIMEDOUT")
	})
	require.Error(t, err)
	code, ok := txerrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, txerrors.CodeRetriesExhausted, code)
	assert.Equal(t, 3, calls) // maxRetries + 1
}

func TestDo_NonRetryableShortCircuits(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context, rc Context) error {
		calls++
		return errors.New("insufficient funds")
	})
	require.Error(t, err)
	code, ok := txerrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, txerrors.CodeNonRetryable, code)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomPredicateAuthoritative(t *testing.T) {
	calls := 0
	cfg := Config{
		MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond,
		RetryPredicate: func(err error) bool { return false },
	}
	err := Do(context.Background(), cfg, func(ctx context.Context, rc Context) error {
		calls++
		return errors.New("ETIMEDOUT") // would normally be retryable
	})
	require.Error(t, err)
	code, _ := txerrors.CodeOf(err)
	assert.Equal(t, txerrors.CodeNonRetryable, code)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryHookInvoked(t *testing.T) {
	var gotAttempts []int
	cfg := Config{
		MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond,
		OnRetry: func(ctx context.Context, err error, attempt int, delay time.Duration) {
			gotAttempts = append(gotAttempts, attempt)
		},
	}
	calls := 0
	_ = Do(context.Background(), cfg, func(ctx context.Context, rc Context) error {
		calls++
		return errors.New("ETIMEDOUT")
	})
	assert.Equal(t, []int{0, 1}, gotAttempts)
}

func TestDo_ContextCancellationStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := Config{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: time.Second}
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, func(ctx context.Context, rc Context) error {
		calls++
		return errors.New("ETIMEDOUT")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}

func TestDo_CappedDelayFormula(t *testing.T) {
	d := cappedDelay(100*time.Millisecond, 2, time.Second, 0)
	assert.Equal(t, 100*time.Millisecond, d)
	d = cappedDelay(100*time.Millisecond, 2, time.Second, 3)
	assert.Equal(t, 800*time.Millisecond, d)
	d = cappedDelay(100*time.Millisecond, 2, time.Second, 10)
	assert.Equal(t, time.Second, d)
}

// TestDo_InvocationCountBounded is a property test of spec.md §8's retry
// invariant: fn is invoked at most maxRetries+1 times, and exactly once
// on a non-retryable failure.
func TestDo_InvocationCountBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRetries := rapid.IntRange(0, 8).Draw(rt, "maxRetries")
		alwaysFail := rapid.Bool().Draw(rt, "alwaysFail")
		nonRetryable := rapid.Bool().Draw(rt, "nonRetryable")

		calls := 0
		cfg := Config{
			MaxRetries: maxRetries,
			BaseDelay:  time.Microsecond,
			MaxDelay:   time.Microsecond,
		}
		err := Do(context.Background(), cfg, func(ctx context.Context, rc Context) error {
			calls++
			if !alwaysFail {
				return nil
			}
			if nonRetryable {
				return errors.New("insufficient funds")
			}
			return errors.New("ETIMEDOUT")
		})

		if !alwaysFail {
			if err != nil {
				rt.Fatalf("expected success, got %v", err)
			}
			if calls != 1 {
				rt.Fatalf("expected exactly 1 call on success, got %d", calls)
			}
			return
		}

		if nonRetryable {
			if calls != 1 {
				rt.Fatalf("expected exactly 1 call on non-retryable failure, got %d", calls)
			}
			return
		}

		if calls > maxRetries+1 {
			rt.Fatalf("invocation count %d exceeds maxRetries+1=%d", calls, maxRetries+1)
		}
	})
}
