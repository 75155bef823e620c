// Package catalog serves product snapshots with live stock figures.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/fjod/go_storefront/internal/domain"
)

var ErrProductNotFound = errors.New("product not found")

// StockSource reports available stock for a product variant.
type StockSource interface {
	Available(productID string, v domain.VariantIdentity) (int, bool)
}

type Catalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	order    []string
	stock    StockSource
}

// New builds a catalog over products. stock may be nil, in which case the
// seeded figures are served as-is.
func New(products []domain.Product, stock StockSource) *Catalog {
	c := &Catalog{
		products: make(map[string]domain.Product, len(products)),
		stock:    stock,
	}
	for _, p := range products {
		if _, dup := c.products[p.ID]; !dup {
			c.order = append(c.order, p.ID)
		}
		c.products[p.ID] = p
	}
	return c
}

// LoadSeed reads a JSON array of products. A missing file yields no products.
func LoadSeed(path string) ([]domain.Product, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog seed: %w", err)
	}
	var products []domain.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("parse catalog seed: %w", err)
	}
	for i, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog seed: product %d has no id", i)
		}
		if p.Price.IsNegative() {
			return nil, fmt.Errorf("catalog seed: product %s has a negative price", p.ID)
		}
	}
	return products, nil
}

func (c *Catalog) Product(_ context.Context, id string) (domain.Product, error) {
	c.mu.RLock()
	p, ok := c.products[id]
	c.mu.RUnlock()
	if !ok {
		return domain.Product{}, ErrProductNotFound
	}
	return c.withStock(p), nil
}

func (c *Catalog) Products(_ context.Context) ([]domain.Product, error) {
	c.mu.RLock()
	out := make([]domain.Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.products[id])
	}
	c.mu.RUnlock()

	for i := range out {
		out[i] = c.withStock(out[i])
	}
	return out, nil
}

func (c *Catalog) withStock(p domain.Product) domain.Product {
	if c.stock == nil {
		return p
	}
	if n, ok := c.stock.Available(p.ID, domain.NoVariant()); ok {
		p.Stock = n
	}
	if len(p.Variants) > 0 {
		variants := make([]domain.VariantStock, len(p.Variants))
		for i, vs := range p.Variants {
			if n, ok := c.stock.Available(p.ID, vs.Variant); ok {
				vs.Stock = n
			}
			variants[i] = vs
		}
		p.Variants = variants
	}
	return p
}
