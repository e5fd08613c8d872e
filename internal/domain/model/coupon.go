package model

import "github.com/shopspring/decimal"

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Coupon is consumed, not owned, here: coupon CRUD lives elsewhere. Only the
// discount computation contract matters to settlement.
type Coupon struct {
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	MaxDiscount   *decimal.Decimal // cap, percentage type only
}

var hundred = decimal.NewFromInt(100)

// ComputeFinalAmount returns the chargeable amount for a base price and an
// optional coupon. It is pure and deterministic: the same inputs always give
// the same result, so the display amount and the authoritative charge amount
// can never diverge. The result is clamped to >= 0 and rounded to the
// settlement currency's minor unit with bankers rounding.
func ComputeFinalAmount(baseAmount decimal.Decimal, coupon *Coupon) decimal.Decimal {
	if coupon == nil {
		return baseAmount.RoundBank(2)
	}

	var discount decimal.Decimal
	switch coupon.DiscountType {
	case DiscountPercentage:
		discount = baseAmount.Mul(coupon.DiscountValue).Div(hundred)
		if coupon.MaxDiscount != nil && discount.GreaterThan(*coupon.MaxDiscount) {
			discount = *coupon.MaxDiscount
		}
	case DiscountFixed:
		discount = coupon.DiscountValue
		if discount.GreaterThan(baseAmount) {
			discount = baseAmount
		}
	default:
		discount = decimal.Zero
	}

	final := baseAmount.Sub(discount)
	if final.IsNegative() {
		final = decimal.Zero
	}
	return final.RoundBank(2)
}
