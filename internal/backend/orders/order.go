// Package orders creates orders from checkout submissions. It re-prices every
// line from the catalog, holds stock while the order is written, and records
// an order.created event in the same transaction for the outbox publisher.
package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	StatusConfirmed = "CONFIRMED"

	EventOrderCreated = "order.created"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateKey         = errors.New("order with this idempotency key already exists")
	ErrMissingKey           = errors.New("idempotency key is required")
	ErrKeyReused            = errors.New("idempotency key belongs to another user")
	ErrEmptyOrder           = errors.New("order has no items")
	ErrInvalidQuantity      = errors.New("item quantity must be positive")
	ErrUnknownProduct       = errors.New("order references an unknown product")
	ErrMethodUnavailable    = errors.New("payment method is not available")
	ErrPaymentNotVerified   = errors.New("payment could not be verified")
	ErrPaymentMismatch      = errors.New("payment amount does not match order total")
	ErrPaymentUsed          = errors.New("payment already settled another order")
	ErrPriceChanged         = errors.New("order total no longer matches current prices")
	ErrOutOfStock           = errors.New("not enough stock for this order")
	ErrInvalidPaymentMethod = errors.New("unknown payment method")
)

// CouponRejectedError is returned when the order's coupon no longer applies.
type CouponRejectedError struct {
	Code   string
	Reason domain.CouponRejection
}

func (e *CouponRejectedError) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

// Record is a stored order.
type Record struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Status    string       `json:"status"`
	Order     domain.Order `json:"order"`
	CreatedAt time.Time    `json:"created_at"`
}

func (r *Record) Confirmation() domain.OrderConfirmation {
	return domain.OrderConfirmation{OrderID: r.ID, Status: r.Status, Total: r.Order.Total}
}

type OutboxEvent struct {
	ID          string
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// CreatedEvent is the order.created payload.
type CreatedEvent struct {
	OrderID       string               `json:"order_id"`
	UserID        string               `json:"user_id"`
	Items         []domain.OrderLine   `json:"items"`
	Total         decimal.Decimal      `json:"total"`
	Currency      string               `json:"currency"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	CreatedAt     time.Time            `json:"created_at"`
}
