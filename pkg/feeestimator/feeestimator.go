// Package feeestimator implements the priority-fee percentile estimator.
package feeestimator

import (
	"context"
	"math"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/solana-tx-kit/txkit/pkg/rpcconn"
	"github.com/solana-tx-kit/txkit/pkg/txerrors"
)

// Percentile is one of the three supported targets.
type Percentile int

const (
	P50 Percentile = 50
	P75 Percentile = 75
	P90 Percentile = 90
)

// Config configures an estimate.
type Config struct {
	TargetPercentile Percentile
	MinMicroLamports uint64
	MaxMicroLamports uint64
	WritableAccounts []solana.PublicKey
}

// DefaultConfig mirrors spec.md §6's priorityFee defaults.
func DefaultConfig() Config {
	return Config{
		TargetPercentile: P75,
		MinMicroLamports: 1_000,
		MaxMicroLamports: 1_000_000,
	}
}

// Estimate is the result of Estimate.
type Estimate struct {
	FeeMicroLamports uint64
	P50              uint64
	P75              uint64
	P90              uint64
	SampleCount      int
}

// FetchFunc retrieves recent prioritization fee samples.
type FetchFunc func(ctx context.Context, writableAccounts []solana.PublicKey) ([]rpcconn.PrioritizationFeeSample, error)

// Estimate queries recent prioritization fees via fetch, discards
// zero-valued samples, and computes the nearest-rank percentile per
// spec.md §4.2.
func Estimate(ctx context.Context, fetch FetchFunc, cfg Config) (Estimate, error) {
	d := DefaultConfig()
	if cfg.TargetPercentile == 0 {
		cfg.TargetPercentile = d.TargetPercentile
	}
	if cfg.MaxMicroLamports == 0 {
		cfg.MaxMicroLamports = d.MaxMicroLamports
	}

	samples, err := fetch(ctx, cfg.WritableAccounts)
	if err != nil {
		return Estimate{}, txerrors.New(txerrors.CodeFeeEstimationFailed, "failed to fetch prioritization fees").WithCause(err)
	}

	fees := make([]uint64, 0, len(samples))
	for _, s := range samples {
		if s.PrioritizationFee > 0 {
			fees = append(fees, s.PrioritizationFee)
		}
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })

	if len(fees) == 0 {
		return Estimate{
			FeeMicroLamports: cfg.MinMicroLamports,
			SampleCount:      0,
		}, nil
	}

	p50 := nearestRank(fees, 50)
	p75 := nearestRank(fees, 75)
	p90 := nearestRank(fees, 90)

	var chosen uint64
	switch cfg.TargetPercentile {
	case P50:
		chosen = p50
	case P90:
		chosen = p90
	default:
		chosen = p75
	}

	chosen = clamp(chosen, cfg.MinMicroLamports, cfg.MaxMicroLamports)

	return Estimate{
		FeeMicroLamports: chosen,
		P50:              p50,
		P75:              p75,
		P90:              p90,
		SampleCount:      len(fees),
	}, nil
}

// nearestRank computes the pth percentile of a sorted ascending slice
// using index = ceil(p/100 * n) - 1, clamped to [0, n-1].
func nearestRank(sorted []uint64, p int) uint64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(p)/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

func clamp(v, min, max uint64) uint64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
