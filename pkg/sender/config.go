package sender

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/solana-tx-kit/txkit/pkg/blockhash"
	"github.com/solana-tx-kit/txkit/pkg/breaker"
	"github.com/solana-tx-kit/txkit/pkg/confirm"
	"github.com/solana-tx-kit/txkit/pkg/feeestimator"
	"github.com/solana-tx-kit/txkit/pkg/pool"
	"github.com/solana-tx-kit/txkit/pkg/retry"
	"github.com/solana-tx-kit/txkit/pkg/rpcconn"
)

// RPCConfig configures the connection pool: either a single url or a
// list of weighted endpoints. The concrete JSON-RPC/websocket client
// behind each endpoint is an external collaborator (out of scope per
// spec); URL-only callers supply ConnFactory to produce one.
type RPCConfig struct {
	URL                   string
	ConnFactory           func(url string) rpcconn.Conn
	Endpoints             []pool.Endpoint
	Strategy              pool.Strategy
	HealthCheckIntervalMs time.Duration
	HealthCheckCommitment rpcconn.Commitment
	CircuitBreaker        struct {
		FailureThreshold int
		ResetTimeoutMs   time.Duration
		WindowMs         time.Duration
	}
}

// PriorityFeeConfig configures the fee estimator. A nil value disables
// priority-fee estimation entirely (spec.md §6: `priorityFee?: false |
// {...}`).
type PriorityFeeConfig struct {
	TargetPercentile feeestimator.Percentile
	MinMicroLamports uint64
	MaxMicroLamports uint64
	WritableAccounts []solana.PublicKey
}

// SimulationConfig configures pre-submission simulation. A nil value
// disables simulation entirely. The zero value of
// DisableBlockhashReplacement matches spec.md §6's replaceRecentBlockhash
// default of true; set it to opt out.
type SimulationConfig struct {
	Commitment                  rpcconn.Commitment
	DisableBlockhashReplacement bool
	SigVerify                   bool
}

// ConfirmationConfig configures the confirmation tracker. The zero value
// of DisableWebSocket matches spec.md §6's useWebSocket default of true;
// set it to opt out and poll exclusively.
type ConfirmationConfig struct {
	Commitment      rpcconn.Commitment
	TimeoutMs       time.Duration
	PollIntervalMs  time.Duration
	DisableWebSocket bool
}

// BlockhashConfig configures the blockhash manager.
type BlockhashConfig struct {
	TTLMs             time.Duration
	RefreshIntervalMs time.Duration
	Commitment        rpcconn.Commitment
}

// RetryConfig configures the retry engine.
type RetryConfig struct {
	MaxRetries        int
	BaseDelayMs       time.Duration
	MaxDelayMs        time.Duration
	BackoffMultiplier float64
	RetryPredicate    retry.Predicate
	OnRetry           retry.OnRetry
}

// Config is the top-level configuration record. Unknown fields have no
// Go-level representation (the struct itself is the closed set of
// recognized options); Validate enforces required fields and replaces
// non-positive or empty values with defaults eagerly, before any
// background goroutine is started.
type Config struct {
	RPC            RPCConfig
	Signer         solana.PrivateKey
	ExtraSigners   []solana.PrivateKey
	Retry          *RetryConfig
	PriorityFee    *PriorityFeeConfig
	Simulation     *SimulationConfig
	Confirmation   *ConfirmationConfig
	Blockhash      *BlockhashConfig
	Commitment     rpcconn.Commitment
	Logger         *logrus.Entry
}

// Validate checks required fields and fills in documented defaults for
// any omitted sub-configuration, per spec.md §6. It rejects
// configurations that name no endpoint at all.
func (c *Config) Validate() error {
	if len(c.Signer) == 0 {
		return fmt.Errorf("sender: signer is required")
	}
	if c.RPC.URL == "" && len(c.RPC.Endpoints) == 0 {
		return fmt.Errorf("sender: rpc.url or rpc.endpoints is required")
	}
	if c.RPC.URL != "" && len(c.RPC.Endpoints) == 0 {
		if c.RPC.ConnFactory == nil {
			return fmt.Errorf("sender: rpc.connFactory is required when rpc.url is set")
		}
		c.RPC.Endpoints = []pool.Endpoint{{Label: c.RPC.URL, Weight: 1, Conn: c.RPC.ConnFactory(c.RPC.URL)}}
	}
	if c.Commitment == "" {
		c.Commitment = rpcconn.CommitmentConfirmed
	}
	if c.RPC.Strategy == "" {
		c.RPC.Strategy = pool.StrategyWeightedRoundRobin
	}
	if c.RPC.HealthCheckIntervalMs <= 0 {
		c.RPC.HealthCheckIntervalMs = 10 * time.Second
	}
	if c.RPC.HealthCheckCommitment == "" {
		c.RPC.HealthCheckCommitment = rpcconn.CommitmentConfirmed
	}
	if c.RPC.CircuitBreaker.FailureThreshold <= 0 {
		c.RPC.CircuitBreaker.FailureThreshold = 5
	}
	if c.RPC.CircuitBreaker.ResetTimeoutMs <= 0 {
		c.RPC.CircuitBreaker.ResetTimeoutMs = 30 * time.Second
	}
	if c.RPC.CircuitBreaker.WindowMs <= 0 {
		c.RPC.CircuitBreaker.WindowMs = 60 * time.Second
	}

	if c.Retry == nil {
		c.Retry = &RetryConfig{}
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = 500 * time.Millisecond
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = 10 * time.Second
	}
	if c.Retry.BackoffMultiplier <= 0 {
		c.Retry.BackoffMultiplier = 2
	}

	if c.PriorityFee != nil {
		if c.PriorityFee.TargetPercentile == 0 {
			c.PriorityFee.TargetPercentile = feeestimator.P75
		}
		if c.PriorityFee.MinMicroLamports == 0 {
			c.PriorityFee.MinMicroLamports = 1_000
		}
		if c.PriorityFee.MaxMicroLamports == 0 {
			c.PriorityFee.MaxMicroLamports = 1_000_000
		}
	}

	if c.Simulation != nil {
		if c.Simulation.Commitment == "" {
			c.Simulation.Commitment = rpcconn.CommitmentConfirmed
		}
	}

	if c.Confirmation == nil {
		c.Confirmation = &ConfirmationConfig{}
	}
	if c.Confirmation.Commitment == "" {
		c.Confirmation.Commitment = rpcconn.CommitmentConfirmed
	}
	if c.Confirmation.TimeoutMs <= 0 {
		c.Confirmation.TimeoutMs = 60 * time.Second
	}
	if c.Confirmation.PollIntervalMs <= 0 {
		c.Confirmation.PollIntervalMs = 2 * time.Second
	}

	if c.Blockhash == nil {
		c.Blockhash = &BlockhashConfig{}
	}
	if c.Blockhash.TTLMs <= 0 {
		c.Blockhash.TTLMs = 60 * time.Second
	}
	if c.Blockhash.RefreshIntervalMs <= 0 {
		c.Blockhash.RefreshIntervalMs = 30 * time.Second
	}
	if c.Blockhash.Commitment == "" {
		c.Blockhash.Commitment = rpcconn.CommitmentConfirmed
	}

	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return nil
}

// toPoolConfig translates the rpc sub-config into a pool.Config.
func (c *Config) toPoolConfig() pool.Config {
	return pool.Config{
		Strategy:              c.RPC.Strategy,
		HealthCheckInterval:   c.RPC.HealthCheckIntervalMs,
		HealthCheckCommitment: c.RPC.HealthCheckCommitment,
		Breaker: breaker.Config{
			FailureThreshold: c.RPC.CircuitBreaker.FailureThreshold,
			ResetTimeout:     c.RPC.CircuitBreaker.ResetTimeoutMs,
			Window:           c.RPC.CircuitBreaker.WindowMs,
		},
	}
}

func (c *Config) toBlockhashConfig() blockhash.Config {
	return blockhash.Config{
		TTL:             c.Blockhash.TTLMs,
		RefreshInterval: c.Blockhash.RefreshIntervalMs,
	}
}

func (c *Config) toConfirmConfig() confirm.Config {
	return confirm.Config{
		Commitment:   c.Confirmation.Commitment,
		TimeoutMs:    c.Confirmation.TimeoutMs,
		PollInterval: c.Confirmation.PollIntervalMs,
		UseWebSocket: !c.Confirmation.DisableWebSocket,
	}
}

func (c *Config) toRetryConfig() retry.Config {
	return retry.Config{
		MaxRetries:        c.Retry.MaxRetries,
		BaseDelay:         c.Retry.BaseDelayMs,
		MaxDelay:          c.Retry.MaxDelayMs,
		BackoffMultiplier: c.Retry.BackoffMultiplier,
		RetryPredicate:    c.Retry.RetryPredicate,
	}
}
