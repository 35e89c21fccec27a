package money_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebot/agent/internal/money"
)

func TestFromCents(t *testing.T) {
	m := money.FromCents(150)
	assert.Equal(t, "1.50000000", m.String())
}

func TestParseRoundTrip(t *testing.T) {
	m, err := money.Parse("42.123456789")
	require.NoError(t, err)
	// 9th digit rounds half-to-even away at 8 places.
	assert.Equal(t, "42.12345679", m.String())
}

func TestAddSub(t *testing.T) {
	a := money.FromCents(1000)
	b := money.FromCents(250)
	assert.True(t, a.Add(b).Equal(money.FromCents(1250)))
	assert.True(t, a.Sub(b).Equal(money.FromCents(750)))
}

func TestDivByZero(t *testing.T) {
	_, err := money.FromCents(100).Div(money.Zero())
	require.Error(t, err)
}

func TestDivExact(t *testing.T) {
	result, err := money.FromInt(10).Div(money.FromInt(4))
	require.NoError(t, err)
	assert.True(t, result.Equal(money.MustParse("2.50000000")))
}

func TestMulFrac(t *testing.T) {
	result := money.FromInt(100).MulFrac(decimal.NewFromFloat(0.06))
	assert.True(t, result.Equal(money.FromInt(6)))
}

func TestMinMax(t *testing.T) {
	a, b := money.FromInt(3), money.FromInt(5)
	assert.True(t, money.Min(a, b).Equal(a))
	assert.True(t, money.Max(a, b).Equal(b))
}

func TestNegIsZeroIsPositive(t *testing.T) {
	m := money.FromInt(5).Neg()
	assert.True(t, m.IsNegative())
	assert.False(t, m.IsZero())
	assert.True(t, money.Zero().IsZero())
	assert.True(t, money.FromInt(1).IsPositive())
}
