package api

import (
	"context"
	"net/http"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
)

func (c *Client) ListAddresses(ctx context.Context) ([]domain.Address, error) {
	var out struct {
		Addresses []domain.Address `json:"addresses"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/addresses", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Addresses, nil
}

func (c *Client) CreateAddress(ctx context.Context, a domain.Address) (domain.Address, error) {
	var out domain.Address
	err := c.do(ctx, http.MethodPost, "/api/v1/addresses", nil, a, &out)
	return out, err
}

func (c *Client) StoreConfig(ctx context.Context) (domain.StoreConfig, error) {
	var out domain.StoreConfig
	err := c.do(ctx, http.MethodGet, "/api/v1/store/config", nil, nil, &out)
	return out, err
}

type validateCouponRequest struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

func (c *Client) ValidateCoupon(ctx context.Context, code string, subtotal decimal.Decimal) (domain.CouponVerdict, error) {
	var out domain.CouponVerdict
	err := c.do(ctx, http.MethodPost, "/api/v1/coupons/validate", nil, validateCouponRequest{Code: code, Subtotal: subtotal}, &out)
	return out, err
}
