package api

import (
	"context"
	"net/http"

	"github.com/fjod/go_storefront/internal/domain"
)

// CreateOrder sends the order once, keyed by its idempotency key.
func (c *Client) CreateOrder(ctx context.Context, o domain.Order) (domain.OrderConfirmation, error) {
	var out domain.OrderConfirmation
	headers := map[string]string{"Idempotency-Key": o.IdempotencyKey}
	err := c.do(ctx, http.MethodPost, "/api/v1/orders", headers, o, &out)
	return out, err
}
