// Package money provides fixed-point decimal helpers for payout arithmetic.
//
// All monetary values are decimal.Decimal, never binary floats. Sums are
// accumulated at full precision; Round2 is applied only when a value leaves
// the engine (persisted or returned), so rounding error never compounds
// across members.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Zero is the additive identity for accumulators.
var Zero = decimal.Zero

// Parse converts external text into a decimal amount. Empty input is zero.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// ParseNonNegative is Parse with a >= 0 constraint, for amounts that may
// never be negative (pool totals, prices, bonuses, flat payments).
func ParseNonNegative(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("amount %q must not be negative", s)
	}
	return d, nil
}

// Round2 rounds to 2 fractional digits with ties away from zero, the
// bank-standard half-up used for every persisted or displayed value.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Format renders an amount with exactly 2 fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// MulCount multiplies a per-unit price by an integer count at full precision.
func MulCount(price decimal.Decimal, count int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(count)))
}
