// Package coupons stores discount codes and decides whether one applies to a
// given subtotal.
package coupons

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// Coupon is the stored form. Amounts are decimal strings.
type Coupon struct {
	Code              string              `bson:"code" json:"code"`
	DiscountType      domain.DiscountType `bson:"discount_type" json:"discount_type"`
	Value             string              `bson:"value" json:"value"`
	MinOrderAmount    string              `bson:"min_order_amount,omitempty" json:"min_order_amount,omitempty"`
	MaxDiscountAmount string              `bson:"max_discount_amount,omitempty" json:"max_discount_amount,omitempty"`
	// UsageLimit of zero means unlimited.
	UsageLimit int        `bson:"usage_limit" json:"usage_limit"`
	UsedCount  int        `bson:"used_count" json:"used_count"`
	ExpiresAt  *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	Active     bool       `bson:"active" json:"active"`
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

func (c Coupon) Exhausted() bool {
	return c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit
}

type terms struct {
	value       decimal.Decimal
	minOrder    decimal.Decimal
	maxDiscount *decimal.Decimal
}

func (c Coupon) terms() (terms, error) {
	var t terms
	var err error
	if t.value, err = decimal.NewFromString(c.Value); err != nil {
		return t, fmt.Errorf("coupon %s value: %w", c.Code, err)
	}
	t.minOrder = decimal.Zero
	if c.MinOrderAmount != "" {
		if t.minOrder, err = decimal.NewFromString(c.MinOrderAmount); err != nil {
			return t, fmt.Errorf("coupon %s min order: %w", c.Code, err)
		}
	}
	if c.MaxDiscountAmount != "" {
		m, err := decimal.NewFromString(c.MaxDiscountAmount)
		if err != nil {
			return t, fmt.Errorf("coupon %s max discount: %w", c.Code, err)
		}
		t.maxDiscount = &m
	}
	return t, nil
}

// LoadSeed reads a JSON array of coupons. A missing file yields none.
func LoadSeed(path string) ([]Coupon, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read coupon seed: %w", err)
	}
	var coupons []Coupon
	if err := json.Unmarshal(data, &coupons); err != nil {
		return nil, fmt.Errorf("parse coupon seed: %w", err)
	}
	return coupons, nil
}
