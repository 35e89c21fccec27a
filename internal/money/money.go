// Package money implements exact fixed-point decimal arithmetic for every
// balance, price, size, and cost that flows through the trading core.
// Nothing in this package ever touches a float64.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits money.Money is normalized to.
const Scale = 8

// Money is a signed fixed-point decimal value with at least Scale
// fractional digits of precision. The zero value is zero.
type Money struct {
	d decimal.Decimal
}

// Zero returns the additive identity.
func Zero() Money { return Money{} }

// FromCents builds a Money from an integer count of 1/100th units, e.g.
// FromCents(150) == 1.50. Use this (never a float literal) to build
// constants in code.
func FromCents(cents int64) Money {
	return Money{decimal.NewFromInt(cents).Shift(-2)}
}

// FromInt builds a whole-unit Money value.
func FromInt(units int64) Money {
	return Money{decimal.NewFromInt(units)}
}

// Parse reads a decimal-text representation, as stored in the repository.
func Parse(s string) (Money, error) {
	if s == "" {
		return Zero(), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money.Parse: %q: %w", s, err)
	}
	return Money{d.RoundBank(Scale)}, nil
}

// MustParse is Parse but panics on error; reserved for constants derived
// from literal strings in code and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// String renders a fixed Scale-place decimal string, suitable for the
// repository's TEXT money columns.
func (m Money) String() string {
	return m.d.StringFixed(Scale)
}

// Add returns m + n.
func (m Money) Add(n Money) Money { return Money{m.d.Add(n.d)} }

// Sub returns m - n.
func (m Money) Sub(n Money) Money { return Money{m.d.Sub(n.d)} }

// Neg returns -m.
func (m Money) Neg() Money { return Money{m.d.Neg()} }

// Mul returns m * n, rounded half-to-even at Scale places.
func (m Money) Mul(n Money) Money { return Money{m.d.Mul(n.d).RoundBank(Scale)} }

// MulFrac multiplies a Money by a dimensionless decimal fraction (e.g. a
// Kelly fraction or a confidence scalar), rounding half-to-even at Scale.
func (m Money) MulFrac(frac decimal.Decimal) Money {
	return Money{m.d.Mul(frac).RoundBank(Scale)}
}

// Div returns m / n rounded half-to-even at Scale places. Division by
// zero returns an error rather than panicking or returning +/-Inf.
func (m Money) Div(n Money) (Money, error) {
	if n.IsZero() {
		return Money{}, fmt.Errorf("money.Div: division by zero")
	}
	return Money{m.d.DivRound(n.d, Scale+2).RoundBank(Scale)}, nil
}

// Cmp returns -1, 0, or 1 as m is less than, equal to, or greater than n.
func (m Money) Cmp(n Money) int { return m.d.Cmp(n.d) }

// GreaterThan reports whether m > n.
func (m Money) GreaterThan(n Money) bool { return m.d.GreaterThan(n.d) }

// GreaterThanOrEqual reports whether m >= n.
func (m Money) GreaterThanOrEqual(n Money) bool { return m.d.GreaterThanOrEqual(n.d) }

// LessThan reports whether m < n.
func (m Money) LessThan(n Money) bool { return m.d.LessThan(n.d) }

// LessThanOrEqual reports whether m <= n.
func (m Money) LessThanOrEqual(n Money) bool { return m.d.LessThanOrEqual(n.d) }

// Equal reports whether m == n (value equality, not representation equality).
func (m Money) Equal(n Money) bool { return m.d.Equal(n.d) }

// IsZero reports whether m is exactly zero.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsNegative reports whether m < 0.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// IsPositive reports whether m > 0.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// Decimal exposes the underlying decimal.Decimal for callers that need to
// do dimensionless math (e.g. multiplying by a Kelly fraction). Prefer
// Mul/MulFrac/Div for money-to-money or money-to-fraction arithmetic.
func (m Money) Decimal() decimal.Decimal { return m.d }

// FromDecimal wraps an already-computed decimal.Decimal, rounding it to
// Scale places. Used at the boundary where a dimensionless calculation
// (e.g. a Kelly target) produces a monetary result.
func FromDecimal(d decimal.Decimal) Money { return Money{d.RoundBank(Scale)} }

// Value implements driver.Valuer so a Money can be written directly as a
// TEXT column with database/sql.
func (m Money) Value() (driver.Value, error) { return m.String(), nil }
