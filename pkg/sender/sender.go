// Package sender implements the send pipeline: the orchestrator that
// composes fee estimation, blockhash acquisition, signing, simulation,
// submission, and confirmation into a single atomic Send call.
package sender

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/solana-tx-kit/txkit/pkg/blockhash"
	"github.com/solana-tx-kit/txkit/pkg/confirm"
	"github.com/solana-tx-kit/txkit/pkg/events"
	"github.com/solana-tx-kit/txkit/pkg/feeestimator"
	"github.com/solana-tx-kit/txkit/pkg/pool"
	"github.com/solana-tx-kit/txkit/pkg/retry"
	"github.com/solana-tx-kit/txkit/pkg/rpcconn"
	"github.com/solana-tx-kit/txkit/pkg/txerrors"
)

// TransactionSender exclusively owns one connection pool, one blockhash
// manager, and one event bus for its lifetime.
type TransactionSender struct {
	cfg       Config
	pool      *pool.Pool
	blockhash *blockhash.Manager
	bus       *events.Bus
	log       *logrus.Entry

	destroyOnce sync.Once
}

// New validates cfg and wires every component described by spec.md §4
// into a ready-to-use TransactionSender.
func New(cfg Config) (*TransactionSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := pool.New(cfg.RPC.Endpoints, cfg.toPoolConfig(), cfg.Logger)

	s := &TransactionSender{cfg: cfg, pool: p, bus: events.New(), log: cfg.Logger}

	bh := blockhash.New(s.fetchBlockhash, s.fetchBlockHeight, cfg.toBlockhashConfig(), cfg.Logger)
	bh.Start()
	s.blockhash = bh

	return s, nil
}

// Subscribe registers handler for events of the given kind on the
// sender's bus. The bus is otherwise read-only to callers: Publish is
// not exposed outside this package.
func (s *TransactionSender) Subscribe(kind events.Kind, handler events.Handler) events.SubscriptionID {
	return s.bus.Subscribe(kind, handler)
}

// Unsubscribe removes a subscription registered via Subscribe.
func (s *TransactionSender) Unsubscribe(id events.SubscriptionID) {
	s.bus.Unsubscribe(id)
}

// Destroy stops background timers and releases listeners. Idempotent.
func (s *TransactionSender) Destroy() {
	s.destroyOnce.Do(func() {
		s.blockhash.Destroy()
		s.pool.Destroy()
		s.bus.Close()
	})
}

func (s *TransactionSender) fetchBlockhash(ctx context.Context) (rpcconn.Blockhash, error) {
	var bh rpcconn.Blockhash
	err := s.pool.WithFallback(ctx, func(ctx context.Context, conn rpcconn.Conn) error {
		var ferr error
		bh, ferr = conn.GetLatestBlockhash(ctx, s.cfg.Blockhash.Commitment)
		return ferr
	})
	return bh, err
}

func (s *TransactionSender) fetchBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := s.pool.WithFallback(ctx, func(ctx context.Context, conn rpcconn.Conn) error {
		var ferr error
		height, ferr = conn.GetBlockHeight(ctx, s.cfg.Blockhash.Commitment)
		return ferr
	})
	return height, err
}

func (s *TransactionSender) fetchPriorityFees(ctx context.Context, writableAccounts []solana.PublicKey) ([]rpcconn.PrioritizationFeeSample, error) {
	var samples []rpcconn.PrioritizationFeeSample
	err := s.pool.WithFallback(ctx, func(ctx context.Context, conn rpcconn.Conn) error {
		var ferr error
		samples, ferr = conn.GetRecentPrioritizationFees(ctx, writableAccounts)
		return ferr
	})
	return samples, err
}

// Send implements spec.md §4.9's send pipeline: a single atomic
// send(tx) -> result operation, retry-driven, that never mutates tx.
func (s *TransactionSender) Send(ctx context.Context, tx *solana.Transaction, opts SendOptions) (Result, error) {
	start := time.Now()

	commitment := s.cfg.Commitment
	if opts.Commitment != "" {
		commitment = rpcconn.Commitment(opts.Commitment)
	}

	computeUnits := uint32(defaultComputeUnits)
	if opts.ComputeUnits > 0 {
		computeUnits = opts.ComputeUnits
	}

	priorityFeeMicroLamports, injectComputeBudget, err := s.resolvePriorityFee(ctx, opts)
	if err != nil {
		s.bus.Publish(events.NewFailed(events.FailedPayload{Err: err}))
		return Result{}, err
	}

	workingTx, err := buildWorkingCopy(tx, computeUnits, priorityFeeMicroLamports, injectComputeBudget)
	if err != nil {
		s.bus.Publish(events.NewFailed(events.FailedPayload{Err: err}))
		return Result{}, err
	}

	retryCfg := s.cfg.toRetryConfig()
	if opts.Retry != nil {
		retryCfg = retry.Config{
			MaxRetries:        opts.Retry.MaxRetries,
			BaseDelay:         opts.Retry.BaseDelayMs,
			MaxDelay:          opts.Retry.MaxDelayMs,
			BackoffMultiplier: opts.Retry.BackoffMultiplier,
			RetryPredicate:    opts.Retry.RetryPredicate,
		}
	}
	retryCfg.OnRetry = func(ctx context.Context, err error, attempt int, delay time.Duration) {
		s.bus.Publish(events.NewRetrying(events.RetryingPayload{
			Attempt: attempt, MaxRetries: retryCfg.MaxRetries, Err: err, Delay: delay.Milliseconds(),
		}))
		if opts.Retry != nil && opts.Retry.OnRetry != nil {
			opts.Retry.OnRetry(ctx, err, attempt, delay)
		}

		cls := txerrors.Classify(err)
		if !cls.NeedsResign {
			return
		}
		old, _ := s.blockhash.GetCachedBlockhash()
		if rec, rerr := s.blockhash.RefreshBlockhash(ctx); rerr == nil {
			s.bus.Publish(events.NewBlockhashExpired(events.BlockhashExpiredPayload{
				Old: old.Hash.String(), New: rec.Hash.String(),
			}))
		}
	}

	var result Result
	attempts := 0

	err = retry.Do(ctx, retryCfg, func(ctx context.Context, rc retry.Context) error {
		attempts = rc.Attempt + 1
		return s.attempt(ctx, workingTx, opts, commitment, &result, rc.Attempt)
	})
	if err != nil {
		s.bus.Publish(events.NewFailed(events.FailedPayload{Err: err}))
		return Result{}, err
	}

	result.Attempts = attempts
	result.TotalLatencyMs = time.Since(start).Milliseconds()
	if priorityFeeMicroLamports > 0 {
		pf := priorityFeeMicroLamports
		result.PriorityFee = &pf
	}
	return result, nil
}

// resolvePriorityFee resolves the single fee-amount pre-loop step of
// spec.md §4.9: a per-send static override wins, else a per-send or
// config-level estimation runs once, else priority fees are disabled.
func (s *TransactionSender) resolvePriorityFee(ctx context.Context, opts SendOptions) (uint64, bool, error) {
	if opts.PriorityFee != nil && opts.PriorityFee.StaticMicroLamports != nil {
		return *opts.PriorityFee.StaticMicroLamports, true, nil
	}

	var feeCfg *PriorityFeeConfig
	switch {
	case opts.PriorityFee != nil && opts.PriorityFee.Estimation != nil:
		feeCfg = opts.PriorityFee.Estimation
	case opts.PriorityFee == nil && s.cfg.PriorityFee != nil:
		feeCfg = s.cfg.PriorityFee
	default:
		return 0, false, nil
	}

	est, err := feeestimator.Estimate(ctx, s.fetchPriorityFees, feeestimator.Config{
		TargetPercentile: feeCfg.TargetPercentile,
		MinMicroLamports: feeCfg.MinMicroLamports,
		MaxMicroLamports: feeCfg.MaxMicroLamports,
		WritableAccounts: feeCfg.WritableAccounts,
	})
	if err != nil {
		return 0, false, err
	}
	return est.FeeMicroLamports, true, nil
}

// attempt runs a single pass of the retry loop: blockhash, sign,
// simulate, submit, confirm.
func (s *TransactionSender) attempt(ctx context.Context, workingTx *solana.Transaction, opts SendOptions, commitment rpcconn.Commitment, result *Result, attemptIdx int) error {
	rec, err := s.blockhash.GetBlockhash(ctx)
	if err != nil {
		return err
	}

	signed := cloneTransaction(workingTx)
	signed.Message.RecentBlockhash = rec.Hash

	signers := make([]solana.PrivateKey, 0, 2+len(s.cfg.ExtraSigners)+len(opts.ExtraSigners))
	signers = append(signers, s.cfg.Signer)
	signers = append(signers, s.cfg.ExtraSigners...)
	signers = append(signers, opts.ExtraSigners...)

	if _, err := signed.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for _, sg := range signers {
			sg := sg
			if sg.PublicKey().Equals(key) {
				return &sg
			}
		}
		return nil
	}); err != nil {
		return txerrors.New(txerrors.CodeNonRetryable, "failed to sign transaction").WithCause(err)
	}

	if s.cfg.Simulation != nil && !opts.SkipSimulation {
		var simResult rpcconn.SimulationResult
		err := s.pool.WithFallback(ctx, func(ctx context.Context, conn rpcconn.Conn) error {
			var serr error
			simResult, serr = conn.SimulateTransaction(ctx, signed, s.cfg.Simulation.Commitment, !s.cfg.Simulation.DisableBlockhashReplacement, s.cfg.Simulation.SigVerify)
			return serr
		})
		if err != nil {
			return txerrors.New(txerrors.CodeSimulationFailed, "simulation request failed").WithCause(err)
		}
		if simResult.Err != nil {
			return txerrors.New(txerrors.CodeSimulationFailed, "simulation reported a transaction error").
				WithCause(simResult.Err).
				WithContext("logs", simResult.Logs)
		}
		units := simResult.UnitsConsumed
		result.UnitsConsumed = &units
		s.bus.Publish(events.NewSimulated(events.SimulatedPayload{UnitsConsumed: simResult.UnitsConsumed, Logs: simResult.Logs}))
	}

	s.bus.Publish(events.NewSending(events.SendingPayload{Attempt: attemptIdx}))

	var sig solana.Signature
	if err := s.pool.WithFallback(ctx, func(ctx context.Context, conn rpcconn.Conn) error {
		var serr error
		sig, serr = conn.SendTransaction(ctx, signed, true, 0)
		return serr
	}); err != nil {
		return err
	}

	s.bus.Publish(events.NewSent(events.SentPayload{Signature: sig.String(), Attempt: attemptIdx}))
	result.Signature = sig.String()
	result.Commitment = string(commitment)

	if opts.SkipConfirmation {
		result.Slot = 0
		return nil
	}

	s.bus.Publish(events.NewConfirming(events.ConfirmingPayload{Signature: sig.String()}))

	confirmCfg := s.cfg.toConfirmConfig()
	confirmCfg.Commitment = commitment

	cres := confirm.Confirm(ctx, s.pool.GetConnection(), sig, rec.LastValidBlockHeight, confirmCfg)
	switch cres.Status {
	case confirm.StatusConfirmed, confirm.StatusFinalized:
		result.Slot = cres.Slot
		s.bus.Publish(events.NewConfirmed(events.ConfirmedPayload{Signature: sig.String(), Slot: cres.Slot}))
		return nil
	case confirm.StatusFailed:
		return txerrors.New(txerrors.CodeTransactionFailed, "transaction failed on-chain").WithCause(cres.Err)
	default:
		return txerrors.New(txerrors.CodeBlockhashExpired, "blockhash expired before confirmation").WithRetryable(true, true)
	}
}

// cloneTransaction returns an independent copy of tx so the caller's
// original is never mutated by signing or blockhash substitution.
func cloneTransaction(tx *solana.Transaction) *solana.Transaction {
	data, err := tx.MarshalBinary()
	if err != nil {
		cp := *tx
		return &cp
	}
	clone := new(solana.Transaction)
	if err := clone.UnmarshalBinary(data); err != nil {
		cp := *tx
		return &cp
	}
	return clone
}
