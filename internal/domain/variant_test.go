package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantIdentity_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b VariantIdentity
		want bool
	}{
		{"none equals none", NoVariant(), NoVariant(), true},
		{"same triple", Variant("Red", "M", ""), Variant("Red", "M", ""), true},
		{"different size", Variant("Red", "M", ""), Variant("Red", "L", ""), false},
		{"variant vs none", Variant("Red", "M", ""), NoVariant(), false},
		{"empty triple vs none", Variant("", "", ""), NoVariant(), false},
		{"different length", Variant("Red", "M", "32"), Variant("Red", "M", "34"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a))
			assert.Equal(t, tt.want, tt.a.Key() == tt.b.Key())
		})
	}
}

func TestVariantIdentity_JSON(t *testing.T) {
	data, err := json.Marshal(NoVariant())
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	var none VariantIdentity
	require.NoError(t, json.Unmarshal([]byte("null"), &none))
	assert.True(t, none.IsNone())

	data, err = json.Marshal(Variant("Blue", "M", ""))
	require.NoError(t, err)

	var v VariantIdentity
	require.NoError(t, json.Unmarshal(data, &v))
	assert.True(t, v.Equal(Variant("Blue", "M", "")))

	var empty VariantIdentity
	require.NoError(t, json.Unmarshal([]byte("{}"), &empty))
	assert.False(t, empty.IsNone())
}

func TestProduct_StockFor(t *testing.T) {
	p := Product{
		ID:    "A",
		Stock: 10,
		Variants: []VariantStock{
			{Variant: Variant("Blue", "M", ""), Stock: 3},
			{Variant: Variant("Blue", "L", ""), Stock: -2},
		},
	}
	assert.Equal(t, 10, p.StockFor(NoVariant()))
	assert.Equal(t, 3, p.StockFor(Variant("Blue", "M", "")))
	assert.Equal(t, 0, p.StockFor(Variant("Blue", "L", "")))
	assert.Equal(t, 10, p.StockFor(Variant("Green", "S", "")))
}
