package domain

import "github.com/shopspring/decimal"

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// AppliedCoupon lives for the checkout session only. It is never persisted
// locally; it reaches storage only as part of a submitted order.
type AppliedCoupon struct {
	Code              string           `json:"code"`
	DiscountType      DiscountType     `json:"discount_type"`
	Value             decimal.Decimal  `json:"value"`
	DiscountAmount    decimal.Decimal  `json:"discount_amount"`
	MinOrderAmount    decimal.Decimal  `json:"min_order_amount"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty"`
}

type CouponRejection string

const (
	CouponNotFound           CouponRejection = "not_found"
	CouponExpired            CouponRejection = "expired"
	CouponUsageLimitExceeded CouponRejection = "usage_limit_exceeded"
	CouponBelowMinimumOrder  CouponRejection = "below_minimum_order"
)

// CouponVerdict is the server's answer to a coupon check: either a coupon
// with its computed discount or a rejection reason.
type CouponVerdict struct {
	Valid   bool            `json:"valid"`
	Reason  CouponRejection `json:"reason,omitempty"`
	Message string          `json:"message,omitempty"`
	Coupon  *AppliedCoupon  `json:"coupon,omitempty"`
}
