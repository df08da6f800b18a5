// Package confirm implements the confirmation tracker: it races a
// timeout, a push subscription, and a polling loop, returning whichever
// resolves first and guaranteeing cleanup of the losers.
package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/solana-tx-kit/txkit/pkg/rpcconn"
)

// Status is the outcome of a confirmation race.
type Status string

const (
	StatusConfirmed Status = "Confirmed"
	StatusFinalized Status = "Finalized"
	StatusExpired   Status = "Expired"
	StatusFailed    Status = "Failed"
)

// Result is the outcome of Confirm.
type Result struct {
	Status  Status
	Slot    uint64
	Err     error
	Latency time.Duration
}

// Config configures a confirmation race.
type Config struct {
	Commitment    rpcconn.Commitment
	TimeoutMs     time.Duration
	PollInterval  time.Duration
	UseWebSocket  bool
}

// DefaultConfig mirrors spec.md §6's confirmation defaults.
func DefaultConfig() Config {
	return Config{
		Commitment:   rpcconn.CommitmentConfirmed,
		TimeoutMs:    60 * time.Second,
		PollInterval: 2 * time.Second,
		UseWebSocket: true,
	}
}

// arm is an internal race participant holding the channel it reports its
// result on.
type arm struct {
	result chan Result
}

// Confirm races the three arms described by spec.md §4.8 and returns the
// first to resolve. Every other arm is cancelled and cleaned up before
// Confirm returns, on every exit path including ctx cancellation.
func Confirm(ctx context.Context, conn rpcconn.Conn, sig solana.Signature, lastValidBlockHeight uint64, cfg Config) Result {
	d := DefaultConfig()
	if cfg.Commitment == "" {
		cfg.Commitment = d.Commitment
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = d.TimeoutMs
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}

	start := time.Now()
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan Result, 3)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); runTimeoutArm(raceCtx, cfg.TimeoutMs, resultCh) }()
	go func() { defer wg.Done(); runPollingArm(raceCtx, conn, sig, lastValidBlockHeight, cfg, resultCh) }()

	var sub *rpcconn.Subscription
	if cfg.UseWebSocket {
		var err error
		sub, err = conn.SubscribeSignature(raceCtx, sig, cfg.Commitment)
		if err == nil && sub != nil {
			wg.Add(1)
			go func() { defer wg.Done(); runSubscriptionArm(raceCtx, sub, cfg, resultCh) }()
		}
		// Subscription setup failure is swallowed: polling remains
		// authoritative.
	}

	var res Result
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		res = Result{Status: StatusFailed, Err: ctx.Err()}
	}
	cancel()
	wg.Wait()
	if sub != nil {
		safeUnsubscribe(sub)
	}
	res.Latency = time.Since(start)
	return res
}

func runTimeoutArm(ctx context.Context, timeout time.Duration, out chan<- Result) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
		select {
		case out <- Result{Status: StatusExpired}:
		case <-ctx.Done():
		}
	}
}

func runSubscriptionArm(ctx context.Context, sub *rpcconn.Subscription, cfg Config, out chan<- Result) {
	select {
	case <-ctx.Done():
		return
	case notif, ok := <-sub.Notifications:
		if !ok {
			return
		}
		var res Result
		if notif.Err != nil {
			res = Result{Status: StatusFailed, Slot: notif.Slot, Err: notif.Err}
		} else if cfg.Commitment == rpcconn.CommitmentFinalized {
			res = Result{Status: StatusFinalized, Slot: notif.Slot}
		} else {
			res = Result{Status: StatusConfirmed, Slot: notif.Slot}
		}
		select {
		case out <- res:
		case <-ctx.Done():
		}
	}
}

func runPollingArm(ctx context.Context, conn rpcconn.Conn, sig solana.Signature, lastValidBlockHeight uint64, cfg Config, out chan<- Result) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			height, err := conn.GetBlockHeight(ctx, cfg.Commitment)
			if err == nil && height > lastValidBlockHeight {
				send(ctx, out, Result{Status: StatusExpired})
				return
			}

			statuses, err := conn.GetSignatureStatuses(ctx, []solana.Signature{sig})
			if err != nil || len(statuses) == 0 || !statuses[0].Found {
				continue
			}

			st := statuses[0]
			if st.Err != nil {
				send(ctx, out, Result{Status: StatusFailed, Slot: st.Slot, Err: st.Err})
				return
			}
			if st.ConfirmationStatus == rpcconn.CommitmentFinalized {
				send(ctx, out, Result{Status: StatusFinalized, Slot: st.Slot})
				return
			}
			if (st.ConfirmationStatus == rpcconn.CommitmentConfirmed || st.ConfirmationStatus == rpcconn.CommitmentProcessed) && cfg.Commitment != rpcconn.CommitmentFinalized {
				send(ctx, out, Result{Status: StatusConfirmed, Slot: st.Slot})
				return
			}
		}
	}
}

func send(ctx context.Context, out chan<- Result, res Result) {
	select {
	case out <- res:
	case <-ctx.Done():
	}
}

func safeUnsubscribe(sub *rpcconn.Subscription) {
	defer func() { _ = recover() }()
	if sub.Unsubscribe != nil {
		sub.Unsubscribe()
	}
}
