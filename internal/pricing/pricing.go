// Package pricing holds the money rules shared by the storefront and the order
// service: coupon discounts, tax, shipping and the clamped order total.
package pricing

import (
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Discount computes the absolute discount for a coupon. Percentage discounts
// are clamped to maxDiscount when it is set and never exceed the subtotal.
// A fixed discount is the flat amount; Total keeps the order from going
// negative.
func Discount(kind domain.DiscountType, value, subtotal decimal.Decimal, maxDiscount *decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() || !value.IsPositive() {
		return decimal.Zero
	}

	var d decimal.Decimal
	switch kind {
	case domain.DiscountPercentage:
		d = subtotal.Mul(value).Div(hundred)
		if maxDiscount != nil && !maxDiscount.IsNegative() && d.GreaterThan(*maxDiscount) {
			d = *maxDiscount
		}
		if d.GreaterThan(subtotal) {
			d = subtotal
		}
	case domain.DiscountFixed:
		d = value
	default:
		return decimal.Zero
	}
	return d.Round(2)
}

// Tax applies a percentage rate to the subtotal.
func Tax(subtotal, ratePercent decimal.Decimal) decimal.Decimal {
	if !ratePercent.IsPositive() || !subtotal.IsPositive() {
		return decimal.Zero
	}
	return subtotal.Mul(ratePercent).Div(hundred).Round(2)
}

// Shipping is the flat fee unless the subtotal reaches the free shipping
// threshold (a zero threshold disables free shipping).
func Shipping(subtotal, fee, freeThreshold decimal.Decimal) decimal.Decimal {
	if !fee.IsPositive() || !subtotal.IsPositive() {
		return decimal.Zero
	}
	if freeThreshold.IsPositive() && subtotal.GreaterThanOrEqual(freeThreshold) {
		return decimal.Zero
	}
	return fee
}

// Total is max(0, subtotal + tax + shipping - discount).
func Total(subtotal, tax, shipping, discount decimal.Decimal) decimal.Decimal {
	t := subtotal.Add(tax).Add(shipping).Sub(discount)
	if t.IsNegative() {
		return decimal.Zero
	}
	return t
}

type Breakdown struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Compute builds the full breakdown for a subtotal under the store settings.
// A nil coupon, or one whose minimum order is not met, contributes nothing.
func Compute(subtotal decimal.Decimal, cfg domain.StoreConfig, coupon *domain.AppliedCoupon) Breakdown {
	b := Breakdown{
		Subtotal: subtotal,
		Tax:      Tax(subtotal, cfg.TaxRate),
		Shipping: Shipping(subtotal, cfg.ShippingFee, cfg.FreeShippingThreshold),
		Discount: decimal.Zero,
	}
	if coupon != nil && MeetsMinimum(subtotal, coupon.MinOrderAmount) {
		b.Discount = Discount(coupon.DiscountType, coupon.Value, subtotal, coupon.MaxDiscountAmount)
	}
	b.Total = Total(b.Subtotal, b.Tax, b.Shipping, b.Discount)
	return b
}

func MeetsMinimum(subtotal, minOrder decimal.Decimal) bool {
	return !minOrder.IsPositive() || subtotal.GreaterThanOrEqual(minOrder)
}
