package calibration

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/repository"
)

func TestFactorFixedBelowSampleSize(t *testing.T) {
	repo, err := repository.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	store := New(repo)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id, err := store.Open(ctx, domain.CalibrationRecord{
			ConditionID:        "0xabc",
			RawConfidence:      decimal.NewFromFloat(0.8),
			FairValue:          decimal.NewFromFloat(0.4), // forecasts NO
			MarketPriceAtEntry: decimal.NewFromFloat(0.5),
			CreatedAt:          time.Now().UTC(),
		})
		require.NoError(t, err)
		_ = id
	}
	require.NoError(t, store.Close(ctx, "0xabc", 0, time.Now().UTC()))

	factor, err := store.Factor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, factor)
}

func TestFactorComputedAtSampleSize(t *testing.T) {
	repo, err := repository.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	store := New(repo)
	ctx := context.Background()

	for i := 0; i < MinSampleSize; i++ {
		conditionID := "market"
		fair := decimal.NewFromFloat(0.6) // forecasts outcome=1
		if i < 5 {
			fair = decimal.NewFromFloat(0.3) // forecasts outcome=0, will be wrong
		}
		_, err := store.Open(ctx, domain.CalibrationRecord{
			ConditionID:        conditionID,
			RawConfidence:      decimal.NewFromFloat(0.75),
			FairValue:          fair,
			MarketPriceAtEntry: decimal.NewFromFloat(0.5),
			CreatedAt:          time.Now().UTC(),
		})
		require.NoError(t, err)
		require.NoError(t, store.Close(ctx, conditionID, 1, time.Now().UTC()))
	}

	factor, err := store.Factor(ctx)
	require.NoError(t, err)
	// 5 wrong (forecast NO, outcome YES), MinSampleSize-5 correct.
	expected := float64(MinSampleSize-5) / float64(MinSampleSize)
	assert.InDelta(t, expected, factor, 1e-9)
}
