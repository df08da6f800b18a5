// Package health implements the per-endpoint metrics tracker that wraps
// one RPC connection and one circuit breaker.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solana-tx-kit/txkit/pkg/breaker"
	"github.com/solana-tx-kit/txkit/pkg/rpcconn"
)

const emaAlpha = 0.3

// Metrics is an immutable snapshot of a tracker's state at the moment
// GetMetrics was called. Callers must not observe mutation of a returned
// value: every call to GetMetrics returns a distinct struct value.
type Metrics struct {
	Label           string
	LatencyEMAms    float64
	SuccessCount    uint64
	ErrorCount      uint64
	ErrorRate       float64
	LastSlot        uint64
	SlotLag         uint64
	LastSuccess     time.Time
	CircuitState    breaker.State
}

// Tracker wraps one endpoint connection and one breaker, accumulating
// latency EMA, success/error counters, and slot lag.
type Tracker struct {
	Label string
	Conn  rpcconn.Conn
	Breaker *breaker.Breaker

	commitment rpcconn.Commitment
	log        *logrus.Entry

	mu           sync.RWMutex
	latencyEMA   float64
	haveLatency  bool
	successCount uint64
	errorCount   uint64
	lastSlot     uint64
	slotLag      uint64
	lastSuccess  time.Time
}

// New constructs a Tracker for one endpoint. commitment is used for the
// periodic low-cost health check.
func New(label string, conn rpcconn.Conn, brk *breaker.Breaker, commitment rpcconn.Commitment, log *logrus.Entry) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{
		Label:      label,
		Conn:       conn,
		Breaker:    brk,
		commitment: commitment,
		log:        log.WithField("endpoint", label),
	}
}

// RecordSuccess folds a new latency sample into the EMA, optionally
// updates the last-seen slot, bumps the success counter, records the
// latest success timestamp, and clears the breaker toward Closed.
func (t *Tracker) RecordSuccess(latency time.Duration, slot *uint64) {
	t.mu.Lock()
	ms := float64(latency) / float64(time.Millisecond)
	if !t.haveLatency {
		t.latencyEMA = ms
		t.haveLatency = true
	} else {
		t.latencyEMA = emaAlpha*ms + (1-emaAlpha)*t.latencyEMA
	}
	if slot != nil {
		t.lastSlot = *slot
	}
	t.successCount++
	t.lastSuccess = time.Now()
	t.mu.Unlock()

	t.Breaker.RecordSuccess()
	t.observeSuccess()
	t.publishGauges(t.GetMetrics())
}

// RecordFailure bumps the error counter and routes the failure to the
// breaker.
func (t *Tracker) RecordFailure(err error) {
	t.mu.Lock()
	t.errorCount++
	t.mu.Unlock()

	t.Breaker.RecordFailure()
	t.observeFailure()
	t.publishGauges(t.GetMetrics())
	t.log.WithError(err).Debug("endpoint failure recorded")
}

// UpdateSlotLag sets slotLag = highestSlot - lastSlot, computed against
// the tracker's own last-seen slot.
func (t *Tracker) UpdateSlotLag(highestSlot uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if highestSlot < t.lastSlot {
		t.slotLag = 0
	} else {
		t.slotLag = highestSlot - t.lastSlot
	}
	slotLagGauge.WithLabelValues(t.Label).Set(float64(t.slotLag))
}

// LastSlot returns the tracker's last-seen slot, for pool-wide
// highestSlot computation.
func (t *Tracker) LastSlot() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSlot
}

// LatencyEMA returns the current latency EMA in milliseconds, for
// latency-based endpoint selection.
func (t *Tracker) LatencyEMA() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latencyEMA
}

// GetMetrics returns a snapshot of the tracker's current state.
func (t *Tracker) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var errRate float64
	if total := t.successCount + t.errorCount; total > 0 {
		errRate = float64(t.errorCount) / float64(total)
	}

	return Metrics{
		Label:        t.Label,
		LatencyEMAms: t.latencyEMA,
		SuccessCount: t.successCount,
		ErrorCount:   t.errorCount,
		ErrorRate:    errRate,
		LastSlot:     t.lastSlot,
		SlotLag:      t.slotLag,
		LastSuccess:  t.lastSuccess,
		CircuitState: t.Breaker.CurrentState(),
	}
}

// HealthCheck performs a low-cost slot query, feeding the result through
// the same success/failure paths as any other request.
func (t *Tracker) HealthCheck(ctx context.Context) error {
	start := time.Now()
	slot, err := t.Conn.GetSlot(ctx, t.commitment)
	if err != nil {
		t.RecordFailure(err)
		return err
	}
	t.RecordSuccess(time.Since(start), &slot)
	return nil
}
