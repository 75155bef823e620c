package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is one line of the client-side cart, keyed by product and variant.
type CartLine struct {
	Product   Product         `json:"product"`
	Variant   VariantIdentity `json:"variant"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	AddedAt   time.Time       `json:"added_at"`
}

func (l CartLine) Matches(productID string, v VariantIdentity) bool {
	return l.Product.ID == productID && l.Variant.Equal(v)
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Subtotal sums the advisory line totals.
func Subtotal(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal())
	}
	return total
}
