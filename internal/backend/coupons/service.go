package coupons

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/pricing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	repo Repository
	log  *zap.Logger
	now  func() time.Time
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

func reject(reason domain.CouponRejection, msg string) domain.CouponVerdict {
	return domain.CouponVerdict{Valid: false, Reason: reason, Message: msg}
}

// Validate checks the code against the subtotal. Rejections are verdicts;
// the error is reserved for storage failures.
func (s *Service) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (domain.CouponVerdict, error) {
	code = NormalizeCode(code)
	if code == "" {
		return reject(domain.CouponNotFound, "Coupon not found"), nil
	}

	c, err := s.repo.FindByCode(ctx, code)
	if errors.Is(err, ErrCouponNotFound) {
		return reject(domain.CouponNotFound, "Coupon not found"), nil
	}
	if err != nil {
		return domain.CouponVerdict{}, err
	}
	if !c.Active {
		return reject(domain.CouponNotFound, "Coupon not found"), nil
	}
	if c.Expired(s.now()) {
		return reject(domain.CouponExpired, "Coupon expired"), nil
	}
	if c.Exhausted() {
		return reject(domain.CouponUsageLimitExceeded, "Coupon usage limit reached"), nil
	}

	t, err := c.terms()
	if err != nil {
		s.log.Error("stored coupon is malformed", zap.String("code", code), zap.Error(err))
		return domain.CouponVerdict{}, err
	}
	if !pricing.MeetsMinimum(subtotal, t.minOrder) {
		return reject(domain.CouponBelowMinimumOrder,
			fmt.Sprintf("Minimum order of %s required", t.minOrder.StringFixed(2))), nil
	}

	return domain.CouponVerdict{
		Valid:   true,
		Message: "Coupon applied successfully",
		Coupon: &domain.AppliedCoupon{
			Code:              c.Code,
			DiscountType:      c.DiscountType,
			Value:             t.value,
			DiscountAmount:    pricing.Discount(c.DiscountType, t.value, subtotal, t.maxDiscount),
			MinOrderAmount:    t.minOrder,
			MaxDiscountAmount: t.maxDiscount,
		},
	}, nil
}

// Redeem counts one use of the code.
func (s *Service) Redeem(ctx context.Context, code string) error {
	return s.repo.Redeem(ctx, NormalizeCode(code))
}

// Seed stores coupons, typically at startup.
func (s *Service) Seed(ctx context.Context, coupons []Coupon) error {
	for i := range coupons {
		c := coupons[i]
		c.Code = NormalizeCode(c.Code)
		if _, err := c.terms(); err != nil {
			return err
		}
		if err := s.repo.Upsert(ctx, &c); err != nil {
			return err
		}
	}
	return nil
}
