// Package rpcconn defines the RPC collaborator surface consumed by the
// rest of this module: the narrow set of Solana JSON-RPC operations the
// pool, blockhash manager, fee estimator, and confirmation tracker need,
// independent of any one client implementation.
package rpcconn

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Commitment mirrors the Solana commitment levels this module cares
// about.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Blockhash is the result of a getLatestBlockhash call.
type Blockhash struct {
	Hash                solana.Hash
	LastValidBlockHeight uint64
}

// SimulationResult is the result of simulateTransaction.
type SimulationResult struct {
	Err            error
	Logs           []string
	UnitsConsumed  uint64
}

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Err               error
	Slot              uint64
	ConfirmationStatus Commitment
	Found             bool
}

// PrioritizationFeeSample is one entry of getRecentPrioritizationFees.
type PrioritizationFeeSample struct {
	Slot            uint64
	PrioritizationFee uint64
}

// SignatureNotification is delivered by a Subscription's channel.
type SignatureNotification struct {
	Err  error
	Slot uint64
}

// Subscription is a live signature-status push subscription. Unsubscribe
// is idempotent and must not block on network I/O longer than necessary;
// failures are swallowed by callers per spec, since polling is always the
// authoritative fallback.
type Subscription struct {
	Notifications <-chan SignatureNotification
	Unsubscribe   func()
}

// Conn is the RPC surface a single pooled endpoint exposes. Every method
// takes a context and must respect cancellation.
type Conn interface {
	// GetRecentPrioritizationFees returns recent per-slot prioritization
	// fee samples, optionally scoped to a set of writable accounts.
	GetRecentPrioritizationFees(ctx context.Context, writableAccounts []solana.PublicKey) ([]PrioritizationFeeSample, error)

	// GetLatestBlockhash returns the latest blockhash and its last valid
	// block height at the given commitment.
	GetLatestBlockhash(ctx context.Context, commitment Commitment) (Blockhash, error)

	// GetBlockHeight returns the current block height at the given
	// commitment.
	GetBlockHeight(ctx context.Context, commitment Commitment) (uint64, error)

	// GetSlot returns the current slot at the given commitment; used by
	// the health loop for low-cost liveness checks and slot-lag
	// computation.
	GetSlot(ctx context.Context, commitment Commitment) (uint64, error)

	// SimulateTransaction simulates tx without submitting it.
	SimulateTransaction(ctx context.Context, tx *solana.Transaction, commitment Commitment, replaceRecentBlockhash bool, sigVerify bool) (SimulationResult, error)

	// SendTransaction submits a serialized transaction and returns its
	// signature. skipPreflight and maxRetries are RPC-node-side controls;
	// this module's own retry engine governs application-level retries
	// independently.
	SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool, maxRetries uint) (solana.Signature, error)

	// GetSignatureStatuses returns the current status of each signature,
	// in order, one-to-one.
	GetSignatureStatuses(ctx context.Context, sigs []solana.Signature) ([]SignatureStatus, error)

	// SubscribeSignature opens a push subscription that fires once the
	// signature reaches the given commitment. Implementations that lack
	// websocket support may return an error; callers treat subscription
	// setup failure as non-fatal and fall back to polling.
	SubscribeSignature(ctx context.Context, sig solana.Signature, commitment Commitment) (*Subscription, error)
}
