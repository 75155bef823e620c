package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/fjod/go_storefront/internal/domain"
)

func (c *Client) Product(ctx context.Context, id string) (domain.Product, error) {
	var out domain.Product
	err := c.do(ctx, http.MethodGet, "/api/v1/products/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) Products(ctx context.Context) ([]domain.Product, error) {
	var out struct {
		Products []domain.Product `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/products", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}
