package domain

import "github.com/shopspring/decimal"

// Product is the catalog snapshot captured when a line is added to the cart.
// It is not refreshed afterwards.
type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	ImageURL string          `json:"image_url,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Variants []VariantStock  `json:"variants,omitempty"`
}

type VariantStock struct {
	Variant VariantIdentity `json:"variant"`
	Stock   int             `json:"stock"`
}

// StockFor returns the known stock for a variant of the product. Variants the
// catalog does not track separately share the product-level stock.
func (p Product) StockFor(v VariantIdentity) int {
	stock := p.Stock
	if !v.IsNone() {
		for _, vs := range p.Variants {
			if vs.Variant.Equal(v) {
				stock = vs.Stock
				break
			}
		}
	}
	if stock < 0 {
		return 0
	}
	return stock
}
