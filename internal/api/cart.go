package api

import (
	"context"
	"net/http"

	"github.com/fjod/go_storefront/internal/domain"
)

func (c *Client) Merge(ctx context.Context, m domain.CartMutation) (domain.ServerCart, error) {
	var sc domain.ServerCart
	err := c.do(ctx, http.MethodPost, "/api/v1/cart/merge", nil, m, &sc)
	return sc, err
}

func (c *Client) Apply(ctx context.Context, m domain.CartMutation) (domain.ServerCart, error) {
	var sc domain.ServerCart
	err := c.do(ctx, http.MethodPost, "/api/v1/cart/mutations", nil, m, &sc)
	return sc, err
}

func (c *Client) Fetch(ctx context.Context) (domain.ServerCart, error) {
	var sc domain.ServerCart
	err := c.do(ctx, http.MethodGet, "/api/v1/cart", nil, nil, &sc)
	return sc, err
}
