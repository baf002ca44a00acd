// Package money holds the currency arithmetic shared by pricing and settlement.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Places is the currency precision.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Round rounds half away from zero to currency precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse reads a non-negative amount with at most two decimals.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %q is negative", s)
	}
	if !d.Equal(Round(d)) {
		return decimal.Zero, fmt.Errorf("amount %q has more than %d decimals", s, Places)
	}
	return d, nil
}

// Split divides revenue into the platform fee and the merchant payout. The fee
// is rounded per call and the payout takes the remainder, so fee+payout always
// equals revenue exactly.
func Split(revenue, rate decimal.Decimal) (fee, payout decimal.Decimal) {
	fee = Round(revenue.Mul(rate))
	payout = revenue.Sub(fee)
	return fee, payout
}

// Price returns the final booking price for a unit price and guest count.
func Price(unit decimal.Decimal, guests int, perGroup bool) decimal.Decimal {
	if perGroup {
		return Round(unit)
	}
	return Round(unit.Mul(decimal.NewFromInt(int64(guests))))
}

// Cents converts an amount to integer minor units.
func Cents(d decimal.Decimal) int64 {
	return Round(d).Mul(hundred).IntPart()
}

// Format renders an amount with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
