package domain

import "github.com/shopspring/decimal"

// StoreConfig is the subset of store settings checkout depends on.
type StoreConfig struct {
	CODEnabled            bool            `json:"cod_enabled"`
	OnlineEnabled         bool            `json:"online_enabled"`
	Currency              string          `json:"currency"`
	TaxRate               decimal.Decimal `json:"tax_rate"`
	ShippingFee           decimal.Decimal `json:"shipping_fee"`
	FreeShippingThreshold decimal.Decimal `json:"free_shipping_threshold"`
}

// PaymentMethods lists the enabled methods, COD first.
func (c StoreConfig) PaymentMethods() []PaymentMethod {
	var methods []PaymentMethod
	if c.CODEnabled {
		methods = append(methods, PaymentCOD)
	}
	if c.OnlineEnabled {
		methods = append(methods, PaymentOnline)
	}
	return methods
}

func (c StoreConfig) Allows(m PaymentMethod) bool {
	switch m {
	case PaymentCOD:
		return c.CODEnabled
	case PaymentOnline:
		return c.OnlineEnabled
	default:
		return false
	}
}
