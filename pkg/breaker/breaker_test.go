package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestBreaker(cfg Config, start time.Time) (*Breaker, *fakeClock) {
	b := New(cfg)
	clk := &fakeClock{t: start}
	b.now = clk.now
	return b, clk
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreaker_OpensAtThreshold(t *testing.T) {
	cfg := Config{FailureThreshold: 3, ResetTimeout: time.Second, Window: time.Minute}
	b, _ := newTestBreaker(cfg, time.Now())

	require.Equal(t, Closed, b.CurrentState())
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, Closed, b.CurrentState())
	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())
	require.False(t, b.CanExecute())
}

func TestBreaker_WindowPrunesOldFailures(t *testing.T) {
	cfg := Config{FailureThreshold: 3, ResetTimeout: time.Second, Window: 10 * time.Second}
	b, clk := newTestBreaker(cfg, time.Now())

	b.RecordFailure()
	b.RecordFailure()
	clk.advance(11 * time.Second)
	// both prior failures are now outside the window
	b.RecordFailure()
	assert.Equal(t, Closed, b.CurrentState())
}

func TestBreaker_OpenTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: 5 * time.Second, Window: time.Minute}
	b, clk := newTestBreaker(cfg, time.Now())

	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())

	clk.advance(4 * time.Second)
	require.Equal(t, Open, b.CurrentState())

	clk.advance(2 * time.Second)
	require.Equal(t, HalfOpen, b.CurrentState())
	require.True(t, b.CanExecute())
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: time.Second, Window: time.Minute}
	b, clk := newTestBreaker(cfg, time.Now())

	b.RecordFailure()
	clk.advance(2 * time.Second)
	require.Equal(t, HalfOpen, b.CurrentState())

	b.RecordSuccess()
	assert.Equal(t, Closed, b.CurrentState())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: time.Second, Window: time.Minute}
	b, clk := newTestBreaker(cfg, time.Now())

	b.RecordFailure()
	clk.advance(2 * time.Second)
	require.Equal(t, HalfOpen, b.CurrentState())

	b.RecordFailure()
	assert.Equal(t, Open, b.CurrentState())
}

func TestBreaker_Reset(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: time.Minute, Window: time.Minute}
	b, _ := newTestBreaker(cfg, time.Now())

	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())
	b.Reset()
	assert.Equal(t, Closed, b.CurrentState())
	assert.True(t, b.CanExecute())
}

func TestBreaker_DefaultsApplied(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, 5, b.cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, b.cfg.ResetTimeout)
	assert.Equal(t, 60*time.Second, b.cfg.Window)
}

// TestBreaker_OpensExactlyAtThresholdWithinWindow is a property test: for
// any threshold and any sequence of failures spaced strictly inside the
// window, the breaker opens on exactly the threshold-th failure and not
// before, and after resetTimeout elapses with no further activity the next
// read observes HalfOpen.
func TestBreaker_OpensExactlyAtThresholdWithinWindow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		threshold := rapid.IntRange(1, 20).Draw(rt, "threshold")
		window := time.Duration(rapid.IntRange(10, 120)) * time.Second
		resetTimeout := time.Duration(rapid.IntRange(1, 60)) * time.Second

		cfg := Config{FailureThreshold: threshold, ResetTimeout: resetTimeout, Window: window}
		b, clk := newTestBreaker(cfg, time.Now())

		for i := 1; i < threshold; i++ {
			b.RecordFailure()
			if b.CurrentState() != Closed {
				rt.Fatalf("breaker opened after %d of %d failures", i, threshold)
			}
			clk.advance(time.Millisecond)
		}

		b.RecordFailure()
		if b.CurrentState() != Open {
			rt.Fatalf("breaker did not open after %d failures", threshold)
		}

		clk.advance(resetTimeout)
		if b.CurrentState() != HalfOpen {
			rt.Fatalf("breaker did not transition to HalfOpen after resetTimeout elapsed")
		}
	})
}
