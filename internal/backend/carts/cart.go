// Package carts is the authoritative, server-side copy of signed-in users'
// carts. Every write bumps the cart version; mutation ids already applied are
// remembered so a replayed client push is a no-op.
package carts

import (
	"time"

	"github.com/fjod/go_storefront/internal/domain"
)

// maxApplied bounds how many mutation ids a cart remembers.
const maxApplied = 50

type Cart struct {
	UserID    string    `bson:"user_id" json:"user_id"`
	Version   int64     `bson:"version" json:"version"`
	Items     []Item    `bson:"items" json:"items"`
	Applied   []string  `bson:"applied" json:"applied"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

type Item struct {
	ProductID string    `bson:"product_id" json:"product_id"`
	Variant   *Variant  `bson:"variant,omitempty" json:"variant,omitempty"`
	Quantity  int       `bson:"quantity" json:"quantity"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}

// Variant is the stored form of a present variant identity; a nil pointer
// means no variant.
type Variant struct {
	Color  string `bson:"color" json:"color"`
	Size   string `bson:"size" json:"size"`
	Length string `bson:"length" json:"length"`
}

func toVariant(v domain.VariantIdentity) *Variant {
	if v.IsNone() {
		return nil
	}
	return &Variant{Color: v.Color(), Size: v.Size(), Length: v.Length()}
}

func (i Item) Identity() domain.VariantIdentity {
	if i.Variant == nil {
		return domain.NoVariant()
	}
	return domain.Variant(i.Variant.Color, i.Variant.Size, i.Variant.Length)
}

func (i Item) matches(productID string, v domain.VariantIdentity) bool {
	return i.ProductID == productID && i.Identity().Equal(v)
}

func (c *Cart) find(productID string, v domain.VariantIdentity) int {
	for i, it := range c.Items {
		if it.matches(productID, v) {
			return i
		}
	}
	return -1
}

func (c *Cart) hasApplied(id string) bool {
	if id == "" {
		return false
	}
	for _, a := range c.Applied {
		if a == id {
			return true
		}
	}
	return false
}

func (c *Cart) remember(id string) {
	if id == "" {
		return
	}
	c.Applied = append(c.Applied, id)
	if n := len(c.Applied); n > maxApplied {
		c.Applied = c.Applied[n-maxApplied:]
	}
}

func (c *Cart) clone() *Cart {
	cp := *c
	cp.Items = make([]Item, len(c.Items))
	for i, it := range c.Items {
		if it.Variant != nil {
			v := *it.Variant
			it.Variant = &v
		}
		cp.Items[i] = it
	}
	cp.Applied = append([]string(nil), c.Applied...)
	return &cp
}
