// Package money holds the currency arithmetic shared by the cart display and
// the sale engine so both produce the same figures.
package money

import "github.com/shopspring/decimal"

// Places is the number of fractional digits kept for currency amounts.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Round rounds an amount to currency precision (half away from zero).
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Places)
}

// LineGross is unitPrice × qty at currency precision.
func LineGross(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return Round(unitPrice.Mul(decimal.NewFromInt(int64(qty))))
}

// Commission is unitPrice × qty × ratePercent / 100 at currency precision.
func Commission(unitPrice decimal.Decimal, qty int, ratePercent decimal.Decimal) decimal.Decimal {
	return Round(unitPrice.Mul(decimal.NewFromInt(int64(qty))).Mul(ratePercent).Div(hundred))
}

// ValidRate reports whether a commission percentage lies within 0..100.
func ValidRate(ratePercent decimal.Decimal) bool {
	return !ratePercent.IsNegative() && ratePercent.LessThanOrEqual(hundred)
}
