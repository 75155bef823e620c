// Package coupon validates a coupon code against the server and computes the
// discount it grants on the current subtotal.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/pricing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrEmptyCode = errors.New("coupon code is empty")

// RejectionError is returned when the server, or the local minimum order
// check, refuses a coupon.
type RejectionError struct {
	Code    string
	Reason  domain.CouponRejection
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

// IsRejection reports whether err is a coupon rejection with the given reason.
func IsRejection(err error, reason domain.CouponRejection) bool {
	var re *RejectionError
	return errors.As(err, &re) && re.Reason == reason
}

type Remote interface {
	ValidateCoupon(ctx context.Context, code string, subtotal decimal.Decimal) (domain.CouponVerdict, error)
}

type Validator struct {
	remote Remote
	log    *zap.Logger
}

func NewValidator(remote Remote, log *zap.Logger) *Validator {
	return &Validator{remote: remote, log: log}
}

// Normalize is the canonical form of a coupon code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate asks the server about code and returns the coupon with its
// discount for subtotal. The discount is recomputed locally so the cap and
// subtotal clamp always hold.
func (v *Validator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*domain.AppliedCoupon, error) {
	code = Normalize(code)
	if code == "" {
		return nil, ErrEmptyCode
	}

	verdict, err := v.remote.ValidateCoupon(ctx, code, subtotal)
	if err != nil {
		return nil, fmt.Errorf("failed to validate coupon: %w", err)
	}
	if !verdict.Valid || verdict.Coupon == nil {
		reason := verdict.Reason
		if reason == "" {
			reason = domain.CouponNotFound
		}
		v.log.Debug("coupon rejected", zap.String("code", code), zap.String("reason", string(reason)))
		return nil, &RejectionError{Code: code, Reason: reason, Message: verdict.Message}
	}

	c := *verdict.Coupon
	c.Code = code
	if !pricing.MeetsMinimum(subtotal, c.MinOrderAmount) {
		return nil, &RejectionError{
			Code:    code,
			Reason:  domain.CouponBelowMinimumOrder,
			Message: fmt.Sprintf("minimum order amount is %s", c.MinOrderAmount.StringFixed(2)),
		}
	}
	c.DiscountAmount = pricing.Discount(c.DiscountType, c.Value, subtotal, c.MaxDiscountAmount)
	return &c, nil
}
