package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebot/agent/internal/repository"
	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/money"
)

func TestAllowWithinCap(t *testing.T) {
	repo, err := repository.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	a := New(repo, money.MustParse("0.05000000"), 5)

	ok, err := a.Allow(context.Background(), money.MustParse("0.01000000"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowRefusesOverCap(t *testing.T) {
	repo, err := repository.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.InsertAPICost(ctx, domain.APICostRecord{
			Provider: "anthropic", Endpoint: "messages",
			InputTokens: 1000, OutputTokens: 200,
			Cost: money.MustParse("0.00900000"), Cycle: 1, Timestamp: time.Now().UTC(),
		}))
	}

	a := New(repo, money.MustParse("0.05000000"), 5)
	ok, err := a.Allow(ctx, money.MustParse("0.00900000"))
	require.NoError(t, err)
	assert.False(t, ok)

	refusal, err := a.Refuse(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.05000000", refusal.DailyCap)
}

func TestEstimateNextCycleCostFloorsBeforeHistory(t *testing.T) {
	repo, err := repository.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	a := New(repo, money.MustParse("5.00000000"), 4)
	assert.True(t, a.EstimateNextCycleCost().Equal(DefaultFloor))

	a.RecordCost(money.MustParse("0.01000000"))
	a.RecordCost(money.MustParse("0.01000000"))
	// 0.01 mean x 4 calls = 0.04, still below the 0.05 floor.
	estimate := a.EstimateNextCycleCost()
	assert.True(t, estimate.Equal(money.MustParse("0.05000000")))
}

func TestEstimateNextCycleCostRollsWindow(t *testing.T) {
	repo, err := repository.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	a := New(repo, money.MustParse("5.00000000"), 1, WithRollingWindow(2), WithFloor(money.Zero()))
	a.RecordCost(money.MustParse("0.01000000"))
	a.RecordCost(money.MustParse("0.02000000"))
	a.RecordCost(money.MustParse("0.03000000"))

	assert.True(t, a.EstimateNextCycleCost().Equal(money.MustParse("0.02500000")))
}
