// Package payment drives a hosted payment gateway. A session is opened
// against a server-issued order, the shopper completes it out of band, and
// exactly one terminal outcome comes back. Success is trusted only after the
// server has verified its signature.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway could not be loaded")
	ErrInvalidAmount      = errors.New("payment amount must be positive")
	ErrSignatureInvalid   = errors.New("payment signature verification failed")
	ErrNotSuccessful      = errors.New("payment outcome is not a success")
)

type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeFailure   OutcomeKind = "failure"
	OutcomeDismissed OutcomeKind = "dismissed"
)

// Outcome is the terminal result of a gateway session. Payment is set only for
// success; Reason only for failure (and, informally, dismissal).
type Outcome struct {
	Kind    OutcomeKind
	Payment *domain.PaymentInfo
	Reason  string
}

func Success(info domain.PaymentInfo) Outcome {
	return Outcome{Kind: OutcomeSuccess, Payment: &info}
}

func Failure(reason string) Outcome {
	return Outcome{Kind: OutcomeFailure, Reason: reason}
}

func Dismissed() Outcome {
	return Outcome{Kind: OutcomeDismissed}
}

// Prefill is shopper data handed to the hosted page.
type Prefill struct {
	Name  string
	Email string
	Phone string
}

type Session struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	KeyID       string
	CheckoutURL string
	Prefill     Prefill
}

// Gateway is the server side of the payment flow.
type Gateway interface {
	CreatePaymentOrder(ctx context.Context, amount decimal.Decimal, currency string) (domain.PaymentOrder, error)
	VerifyPayment(ctx context.Context, info domain.PaymentInfo) (bool, error)
}

// Integration is the loaded client side of the hosted gateway.
type Integration interface {
	Open(ctx context.Context, s *Session) (<-chan Outcome, error)
	Close(orderID string)
}

type Loader interface {
	Load(ctx context.Context) (Integration, error)
}

type LoaderFunc func(ctx context.Context) (Integration, error)

func (f LoaderFunc) Load(ctx context.Context) (Integration, error) { return f(ctx) }

type Adapter struct {
	gateway Gateway
	loader  Loader
	log     *zap.Logger

	mu          sync.Mutex
	integration Integration
}

func NewAdapter(gateway Gateway, loader Loader, log *zap.Logger) *Adapter {
	return &Adapter{gateway: gateway, loader: loader, log: log}
}

// load returns the integration, loading it on first use. A failed load is
// retried on the next call.
func (a *Adapter) load(ctx context.Context) (Integration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.integration != nil {
		return a.integration, nil
	}
	integ, err := a.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	a.integration = integ
	return integ, nil
}

// Begin creates a server order for amount and opens a gateway session bound
// to it. The returned channel delivers exactly one Outcome; if ctx ends first
// the session is closed and reported as dismissed.
func (a *Adapter) Begin(ctx context.Context, amount decimal.Decimal, currency string, prefill Prefill) (*Session, <-chan Outcome, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	integ, err := a.load(ctx)
	if err != nil {
		return nil, nil, err
	}

	order, err := a.gateway.CreatePaymentOrder(ctx, amount, currency)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create payment order: %w", err)
	}
	s := &Session{
		OrderID:     order.ID,
		Amount:      order.Amount,
		Currency:    order.Currency,
		KeyID:       order.KeyID,
		CheckoutURL: order.CheckoutURL,
		Prefill:     prefill,
	}

	raw, err := integ.Open(ctx, s)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open payment session: %w", err)
	}

	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		select {
		case o, ok := <-raw:
			if !ok {
				o = Failure("gateway closed the session")
			}
			out <- o
		case <-ctx.Done():
			integ.Close(s.OrderID)
			a.log.Info("payment session closed before completion",
				zap.String("order_id", s.OrderID), zap.Error(ctx.Err()))
			o := Dismissed()
			o.Reason = ctx.Err().Error()
			out <- o
		}
	}()
	return s, out, nil
}

// Verify asks the server to check the signature of a successful outcome. The
// payment info is returned only when the server confirms it.
func (a *Adapter) Verify(ctx context.Context, s *Session, o Outcome) (domain.PaymentInfo, error) {
	if o.Kind != OutcomeSuccess || o.Payment == nil {
		return domain.PaymentInfo{}, ErrNotSuccessful
	}
	info := *o.Payment
	if info.GatewayOrderID != s.OrderID {
		a.log.Warn("payment outcome bound to another order",
			zap.String("order_id", s.OrderID), zap.String("got_order_id", info.GatewayOrderID))
		return domain.PaymentInfo{}, ErrSignatureInvalid
	}

	ok, err := a.gateway.VerifyPayment(ctx, info)
	if err != nil {
		return domain.PaymentInfo{}, fmt.Errorf("failed to verify payment: %w", err)
	}
	if !ok {
		return domain.PaymentInfo{}, ErrSignatureInvalid
	}
	return info, nil
}
