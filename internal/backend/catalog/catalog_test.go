package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStock map[string]int

func (m mockStock) Available(productID string, v domain.VariantIdentity) (int, bool) {
	n, ok := m[productID+v.Key()]
	return n, ok
}

func TestCatalog_ProductWithLiveStock(t *testing.T) {
	red := domain.Variant("red", "", "")
	c := New([]domain.Product{
		{ID: "p1", Name: "Tee", Price: decimal.NewFromInt(500), Stock: 10,
			Variants: []domain.VariantStock{{Variant: red, Stock: 4}}},
	}, mockStock{"p1-": 7, "p1" + red.Key(): 1})

	p, err := c.Product(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)
	assert.Equal(t, 1, p.StockFor(red))

	_, err = c.Product(context.Background(), "p2")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestCatalog_ProductsKeepSeedOrder(t *testing.T) {
	c := New([]domain.Product{{ID: "b"}, {ID: "a"}, {ID: "c"}}, nil)
	ps, err := c.Products(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}

func TestLoadSeed(t *testing.T) {
	dir := t.TempDir()

	products, err := LoadSeed(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, products)

	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id":"p1","name":"Tee","price":"499.00","stock":5,
		 "variants":[{"variant":{"color":"red","size":"M"},"stock":2}]}
	]`), 0o600))

	products, err = LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.True(t, products[0].Price.Equal(decimal.RequireFromString("499")))
	assert.Equal(t, 2, products[0].StockFor(domain.Variant("red", "M", "")))

	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"no id"}]`), 0o600))
	_, err = LoadSeed(path)
	assert.Error(t, err)
}
