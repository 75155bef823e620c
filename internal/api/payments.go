package api

import (
	"context"
	"net/http"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
)

type createPaymentOrderRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (c *Client) CreatePaymentOrder(ctx context.Context, amount decimal.Decimal, currency string) (domain.PaymentOrder, error) {
	var out domain.PaymentOrder
	err := c.do(ctx, http.MethodPost, "/api/v1/payments/orders", nil, createPaymentOrderRequest{Amount: amount, Currency: currency}, &out)
	return out, err
}

func (c *Client) VerifyPayment(ctx context.Context, info domain.PaymentInfo) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments/verify", nil, info, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}
