package feeestimator

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solana-tx-kit/txkit/pkg/rpcconn"
	"github.com/solana-tx-kit/txkit/pkg/txerrors"
)

func fetchFixed(fees []uint64) FetchFunc {
	return func(ctx context.Context, writableAccounts []solana.PublicKey) ([]rpcconn.PrioritizationFeeSample, error) {
		samples := make([]rpcconn.PrioritizationFeeSample, len(fees))
		for i, f := range fees {
			samples[i] = rpcconn.PrioritizationFeeSample{PrioritizationFee: f}
		}
		return samples, nil
	}
}

func TestEstimate_EmptySetReturnsMin(t *testing.T) {
	est, err := Estimate(context.Background(), fetchFixed(nil), Config{MinMicroLamports: 500, MaxMicroLamports: 2000})
	require.NoError(t, err)
	assert.Equal(t, uint64(500), est.FeeMicroLamports)
	assert.Equal(t, 0, est.SampleCount)
}

func TestEstimate_DiscardsZeroSamples(t *testing.T) {
	est, err := Estimate(context.Background(), fetchFixed([]uint64{0, 0, 100}), Config{MinMicroLamports: 1, MaxMicroLamports: 100000})
	require.NoError(t, err)
	assert.Equal(t, 1, est.SampleCount)
}

func TestEstimate_NearestRankFormula(t *testing.T) {
	// [10,20,30,40,50,60,70,80,90,100], n=10
	fees := []uint64{100, 90, 10, 40, 60, 20, 80, 30, 50, 70}
	est, err := Estimate(context.Background(), fetchFixed(fees), Config{
		TargetPercentile: P50, MinMicroLamports: 0, MaxMicroLamports: 1_000_000,
	})
	require.NoError(t, err)
	// p50: ceil(0.5*10)-1 = 4 -> sorted[4] = 50
	assert.Equal(t, uint64(50), est.P50)
	// p75: ceil(0.75*10)-1 = 7 -> sorted[7] = 80
	assert.Equal(t, uint64(80), est.P75)
	// p90: ceil(0.9*10)-1 = 8 -> sorted[8] = 90
	assert.Equal(t, uint64(90), est.P90)
	assert.Equal(t, uint64(50), est.FeeMicroLamports)
}

func TestEstimate_ClampsToMax(t *testing.T) {
	est, err := Estimate(context.Background(), fetchFixed([]uint64{1_000_000}), Config{
		TargetPercentile: P90, MinMicroLamports: 1, MaxMicroLamports: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), est.FeeMicroLamports)
}

func TestEstimate_ClampsToMin(t *testing.T) {
	est, err := Estimate(context.Background(), fetchFixed([]uint64{1}), Config{
		TargetPercentile: P90, MinMicroLamports: 1000, MaxMicroLamports: 100000,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), est.FeeMicroLamports)
}

func TestEstimate_RPCFailureRaisesFeeEstimationFailed(t *testing.T) {
	fetch := func(ctx context.Context, writableAccounts []solana.PublicKey) ([]rpcconn.PrioritizationFeeSample, error) {
		return nil, errors.New("rpc down")
	}
	_, err := Estimate(context.Background(), fetch, Config{})
	require.Error(t, err)
	code, ok := txerrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, txerrors.CodeFeeEstimationFailed, code)
}

func TestEstimate_SingleSample(t *testing.T) {
	est, err := Estimate(context.Background(), fetchFixed([]uint64{42}), Config{MinMicroLamports: 1, MaxMicroLamports: 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), est.P50)
	assert.Equal(t, uint64(42), est.P75)
	assert.Equal(t, uint64(42), est.P90)
}
