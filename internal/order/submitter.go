// Package order sends a finished checkout to the order service.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_storefront/internal/domain"
	"go.uber.org/zap"
)

var (
	ErrUnconfirmed       = errors.New("order service returned no order id")
	ErrEmptyOrder        = errors.New("order has no items")
	ErrMissingIdempotent = errors.New("order has no idempotency key")
)

type Service interface {
	CreateOrder(ctx context.Context, o domain.Order) (domain.OrderConfirmation, error)
}

type Submitter struct {
	svc Service
	log *zap.Logger
}

func NewSubmitter(svc Service, log *zap.Logger) *Submitter {
	return &Submitter{svc: svc, log: log}
}

// Submit makes exactly one creation request and returns the confirmed order
// id. It never retries; a repeated attempt reuses the order's idempotency key.
func (s *Submitter) Submit(ctx context.Context, o domain.Order) (string, error) {
	if len(o.Items) == 0 {
		return "", ErrEmptyOrder
	}
	if o.IdempotencyKey == "" {
		return "", ErrMissingIdempotent
	}

	conf, err := s.svc.CreateOrder(ctx, o)
	if err != nil {
		s.log.Warn("order submission failed",
			zap.String("idempotency_key", o.IdempotencyKey), zap.Error(err))
		return "", fmt.Errorf("failed to submit order: %w", err)
	}
	id := strings.TrimSpace(conf.OrderID)
	if id == "" {
		return "", ErrUnconfirmed
	}

	s.log.Info("order confirmed",
		zap.String("order_id", id),
		zap.String("payment_method", string(o.PaymentMethod)),
		zap.String("total", o.Total.StringFixed(2)))
	return id, nil
}
