package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/fjod/go_storefront/internal/api"
	"github.com/fjod/go_storefront/internal/coupon"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type stubApplier struct {
	applied *domain.AppliedCoupon
	err     error
}

func (s stubApplier) ApplyCoupon(context.Context, string) (*domain.AppliedCoupon, error) {
	return s.applied, s.err
}

func TestApplyCoupon_FailuresAreReportedInline(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"rejected", &coupon.RejectionError{Code: "OLD", Reason: domain.CouponExpired}, "coupon not applied: expired"},
		{"blank code", coupon.ErrEmptyCode, "coupon not applied: "},
		{"backend down", api.ErrUnavailable, "coupon not applied: "},
		{"transport", errors.New("connection refused"), "coupon not applied: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			ok := applyCoupon(context.Background(), stubApplier{err: tt.err}, "X", &out)
			assert.False(t, ok)
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestApplyCoupon_Applied(t *testing.T) {
	var out bytes.Buffer
	ok := applyCoupon(context.Background(), stubApplier{applied: &domain.AppliedCoupon{
		Code: "WELCOME10", DiscountAmount: decimal.NewFromInt(100),
	}}, "WELCOME10", &out)

	assert.True(t, ok)
	assert.Equal(t, "coupon WELCOME10: -100.00\n", out.String())
}
