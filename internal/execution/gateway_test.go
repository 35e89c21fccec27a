package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/money"
	"github.com/edgebot/agent/internal/ports"
	"github.com/edgebot/agent/internal/repository"
)

type fakeMarket struct {
	resolutions map[string]ports.Resolution
	books       map[string]domain.OrderBookSnapshot
}

func (f *fakeMarket) ListMarkets(ctx context.Context, filter ports.MarketFilter) ([]domain.Candidate, error) {
	return nil, nil
}

func (f *fakeMarket) GetOrderBook(ctx context.Context, conditionID string) (domain.OrderBookSnapshot, error) {
	return f.books[conditionID], nil
}

func (f *fakeMarket) GetResolution(ctx context.Context, conditionID string) (ports.Resolution, bool, error) {
	res, ok := f.resolutions[conditionID]
	return res, ok, nil
}

func (f *fakeMarket) PlaceLimitOrder(ctx context.Context, conditionID string, direction domain.Direction, price, size float64, ttl int) (string, error) {
	return "", domain.ErrNotImplemented
}

type noopCalibration struct{}

func (noopCalibration) Close(ctx context.Context, conditionID string, outcome int, at time.Time) error {
	return nil
}

func TestPlaceLimitOrderReservesBankroll(t *testing.T) {
	repo, err := repository.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	bankroll := money.FromInt(100)
	gw := NewPaperGateway(repo, noopCalibration{}, &bankroll)

	order := domain.Trade{
		ConditionID: "0xabc",
		Direction:   domain.DirectionYes,
		EntryPrice:  decimal.NewFromFloat(0.40),
		Size:        money.FromInt(15),
		CreatedAt:   time.Now().UTC(),
	}
	res, err := gw.PlaceLimitOrder(context.Background(), order)
	require.NoError(t, err)
	assert.NotZero(t, res.Trade.ID)
	assert.True(t, bankroll.Equal(money.MustParse("94.00000000")), "got %s", bankroll)
}

func TestSettleResolutionsCreditsWinner(t *testing.T) {
	repo, err := repository.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	bankroll := money.MustParse("94.00000000")
	gw := NewPaperGateway(repo, noopCalibration{}, &bankroll)

	order := domain.Trade{
		ConditionID: "0xabc",
		Direction:   domain.DirectionYes,
		EntryPrice:  decimal.NewFromFloat(0.40),
		Size:        money.FromInt(15),
		Status:      domain.TradeStatusFilled,
		CreatedAt:   time.Now().UTC(),
	}
	id, err := repo.InsertTrade(context.Background(), order)
	require.NoError(t, err)
	order.ID = id

	market := &fakeMarket{resolutions: map[string]ports.Resolution{
		"0xabc": {Outcome: 1, Timestamp: time.Now().Unix()},
	}}

	settled, err := gw.SettleResolutions(context.Background(), market, []domain.Trade{order})
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, domain.TradeStatusResolvedWin, settled[0].Status)
	assert.True(t, settled[0].PnL.Equal(money.MustParse("9.00000000")))
	assert.True(t, bankroll.Equal(money.MustParse("109.00000000")), "got %s", bankroll)
}

func TestSettleResolutionsDebitsLoser(t *testing.T) {
	repo, err := repository.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	bankroll := money.MustParse("94.00000000")
	gw := NewPaperGateway(repo, noopCalibration{}, &bankroll)

	order := domain.Trade{
		ConditionID: "0xdef",
		Direction:   domain.DirectionYes,
		EntryPrice:  decimal.NewFromFloat(0.40),
		Size:        money.FromInt(15),
		Status:      domain.TradeStatusFilled,
		CreatedAt:   time.Now().UTC(),
	}
	id, err := repo.InsertTrade(context.Background(), order)
	require.NoError(t, err)
	order.ID = id

	market := &fakeMarket{resolutions: map[string]ports.Resolution{
		"0xdef": {Outcome: 0, Timestamp: time.Now().Unix()},
	}}

	settled, err := gw.SettleResolutions(context.Background(), market, []domain.Trade{order})
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, domain.TradeStatusResolvedLoss, settled[0].Status)
	assert.True(t, settled[0].PnL.Equal(money.MustParse("-6.00000000")), "got %s", settled[0].PnL)
	assert.True(t, bankroll.Equal(money.MustParse("94.00000000")), "got %s", bankroll)
}

func TestLiveGatewayReturnsNotImplemented(t *testing.T) {
	gw := LiveGateway{}
	_, err := gw.PlaceLimitOrder(context.Background(), domain.Trade{})
	assert.ErrorIs(t, err, domain.ErrNotImplemented)
	_, err = gw.SettleResolutions(context.Background(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrNotImplemented)
	_, err = gw.ApplyStopLoss(context.Background(), nil, nil, 0.2)
	assert.ErrorIs(t, err, domain.ErrNotImplemented)
}
