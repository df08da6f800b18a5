package sender

import (
	"github.com/gagliardetto/solana-go"
)

// PrioritySpec is a per-send priority-fee override: either a static
// micro-lamport value or a full estimation config.
type PrioritySpec struct {
	StaticMicroLamports *uint64
	Estimation          *PriorityFeeConfig
}

// SendOptions are recognized per-send overrides (spec.md §6).
type SendOptions struct {
	PriorityFee      *PrioritySpec
	ComputeUnits     uint32
	Retry            *RetryConfig
	SkipSimulation   bool
	SkipConfirmation bool
	Commitment       string
	ExtraSigners     []solana.PrivateKey
}
