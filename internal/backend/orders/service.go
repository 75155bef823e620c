package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_storefront/internal/backend/inventory"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/metrics"
	"github.com/fjod/go_storefront/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Catalog interface {
	Product(ctx context.Context, id string) (domain.Product, error)
}

type Inventory interface {
	Reserve(reference string, items []inventory.Item) (*inventory.Reservation, error)
	Confirm(reservationID string) error
	Release(reservationID string) error
}

type Coupons interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (domain.CouponVerdict, error)
	Redeem(ctx context.Context, code string) error
}

// PaymentVerifier checks a payment signature and returns the gateway order
// the payment settled.
type PaymentVerifier interface {
	Captured(ctx context.Context, info domain.PaymentInfo) (domain.PaymentOrder, bool, error)
}

type Deps struct {
	Repo      Repository
	Catalog   Catalog
	Inventory Inventory
	Coupons   Coupons
	Payments  PaymentVerifier
	Store     domain.StoreConfig
}

type Service struct {
	deps    Deps
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(deps Deps, log *zap.Logger, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Nop()
	}
	return &Service{deps: deps, log: log, metrics: m, now: time.Now}
}

// Create turns a submitted order into a stored one. A key seen before returns
// the order created under it instead of creating another.
func (s *Service) Create(ctx context.Context, userID, key string, req domain.Order) (domain.OrderConfirmation, error) {
	if key == "" {
		return domain.OrderConfirmation{}, ErrMissingKey
	}
	existing, err := s.existing(ctx, userID, key)
	if err != nil {
		return domain.OrderConfirmation{}, err
	}
	if existing != nil {
		return existing.Confirmation(), nil
	}

	rec, err := s.build(ctx, userID, key, req)
	if err != nil {
		return domain.OrderConfirmation{}, err
	}

	reservation, err := s.deps.Inventory.Reserve(rec.ID, reservationItems(rec.Order.Items))
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) || errors.Is(err, inventory.ErrSKUNotFound) {
			return domain.OrderConfirmation{}, ErrOutOfStock
		}
		return domain.OrderConfirmation{}, fmt.Errorf("reserve stock: %w", err)
	}

	ev, err := createdEvent(rec)
	if err != nil {
		s.release(reservation.ID, rec.ID)
		return domain.OrderConfirmation{}, err
	}

	if err := s.deps.Repo.CreateWithEvent(ctx, rec, ev); err != nil {
		s.release(reservation.ID, rec.ID)
		if errors.Is(err, ErrDuplicateKey) {
			// lost a race with a concurrent request carrying the same key
			existing, ferr := s.existing(ctx, userID, key)
			if ferr != nil {
				return domain.OrderConfirmation{}, ferr
			}
			if existing != nil {
				return existing.Confirmation(), nil
			}
		}
		return domain.OrderConfirmation{}, err
	}

	if err := s.deps.Inventory.Confirm(reservation.ID); err != nil {
		s.log.Error("failed to confirm stock reservation",
			zap.String("order_id", rec.ID), zap.String("reservation_id", reservation.ID), zap.Error(err))
	}
	if rec.Order.CouponCode != "" {
		if err := s.deps.Coupons.Redeem(ctx, rec.Order.CouponCode); err != nil {
			s.log.Warn("failed to redeem coupon",
				zap.String("order_id", rec.ID), zap.String("code", rec.Order.CouponCode), zap.Error(err))
		}
	}

	s.metrics.OrdersCreated.Inc()
	s.log.Info("order created",
		zap.String("order_id", rec.ID),
		zap.String("user_id", userID),
		zap.String("payment_method", string(rec.Order.PaymentMethod)),
		zap.String("total", rec.Order.Total.StringFixed(2)))
	return rec.Confirmation(), nil
}

func (s *Service) existing(ctx context.Context, userID, key string) (*Record, error) {
	rec, err := s.deps.Repo.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if rec.UserID != userID {
		return nil, ErrKeyReused
	}
	s.log.Info("duplicate order request",
		zap.String("idempotency_key", key), zap.String("order_id", rec.ID))
	return rec, nil
}

// build validates the request and re-prices it. Client prices and totals are
// advisory; a total that no longer matches is rejected.
func (s *Service) build(ctx context.Context, userID, key string, req domain.Order) (*Record, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkMethod(req); err != nil {
		return nil, err
	}

	items := make([]domain.OrderLine, 0, len(req.Items))
	subtotal := decimal.Zero
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		p, err := s.deps.Catalog.Product(ctx, it.ProductID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, it.ProductID)
		}
		line := domain.OrderLine{
			ProductID: p.ID,
			Name:      p.Name,
			Variant:   it.Variant,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
			LineTotal: p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))),
		}
		subtotal = subtotal.Add(line.LineTotal)
		items = append(items, line)
	}

	var coupon *domain.AppliedCoupon
	if req.CouponCode != "" {
		verdict, err := s.deps.Coupons.Validate(ctx, req.CouponCode, subtotal)
		if err != nil {
			return nil, fmt.Errorf("validate coupon: %w", err)
		}
		if !verdict.Valid || verdict.Coupon == nil {
			return nil, &CouponRejectedError{Code: req.CouponCode, Reason: verdict.Reason}
		}
		coupon = verdict.Coupon
	}

	b := pricing.Compute(subtotal, s.deps.Store, coupon)
	if !req.Total.Equal(b.Total) {
		s.log.Warn("order total mismatch",
			zap.String("user_id", userID),
			zap.String("client_total", req.Total.StringFixed(2)),
			zap.String("server_total", b.Total.StringFixed(2)))
		return nil, ErrPriceChanged
	}
	if err := s.checkPayment(ctx, userID, req, b.Total); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := domain.Order{
		IdempotencyKey:  key,
		Items:           items,
		ShippingAddress: req.ShippingAddress.Normalize(),
		PaymentMethod:   req.PaymentMethod,
		PaymentInfo:     req.PaymentInfo,
		Subtotal:        b.Subtotal,
		Tax:             b.Tax,
		Shipping:        b.Shipping,
		Discount:        b.Discount,
		Total:           b.Total,
		Currency:        s.deps.Store.Currency,
		CreatedAt:       now,
	}
	if coupon != nil {
		o.CouponCode = coupon.Code
	}
	return &Record{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    StatusConfirmed,
		Order:     o,
		CreatedAt: now,
	}, nil
}

func (s *Service) checkMethod(req domain.Order) error {
	switch req.PaymentMethod {
	case domain.PaymentCOD, domain.PaymentOnline:
	default:
		return ErrInvalidPaymentMethod
	}
	if !s.deps.Store.Allows(req.PaymentMethod) {
		return ErrMethodUnavailable
	}
	if req.PaymentMethod == domain.PaymentOnline && req.PaymentInfo == nil {
		return ErrPaymentNotVerified
	}
	return nil
}

// checkPayment accepts an online payment only when the gateway captured
// exactly the re-priced total in the store currency.
func (s *Service) checkPayment(ctx context.Context, userID string, req domain.Order, total decimal.Decimal) error {
	if req.PaymentMethod != domain.PaymentOnline {
		return nil
	}
	paid, ok, err := s.deps.Payments.Captured(ctx, *req.PaymentInfo)
	if err != nil {
		return fmt.Errorf("verify payment: %w", err)
	}
	if !ok {
		return ErrPaymentNotVerified
	}
	if !paid.Amount.Equal(total) || !strings.EqualFold(paid.Currency, s.deps.Store.Currency) {
		s.log.Warn("payment does not cover order",
			zap.String("user_id", userID),
			zap.String("payment_id", req.PaymentInfo.PaymentID),
			zap.String("paid", paid.Amount.StringFixed(2)+" "+paid.Currency),
			zap.String("total", total.StringFixed(2)+" "+s.deps.Store.Currency))
		return ErrPaymentMismatch
	}
	return nil
}

func (s *Service) release(reservationID, orderID string) {
	if err := s.deps.Inventory.Release(reservationID); err != nil {
		s.log.Error("failed to release stock reservation",
			zap.String("order_id", orderID), zap.String("reservation_id", reservationID), zap.Error(err))
	}
}

func (s *Service) Get(ctx context.Context, userID, id string) (*Record, error) {
	rec, err := s.deps.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]Record, error) {
	return s.deps.Repo.ListByUser(ctx, userID)
}

func reservationItems(lines []domain.OrderLine) []inventory.Item {
	items := make([]inventory.Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, inventory.Item{ProductID: l.ProductID, Variant: l.Variant, Quantity: l.Quantity})
	}
	return items
}

func createdEvent(rec *Record) (OutboxEvent, error) {
	payload, err := json.Marshal(CreatedEvent{
		OrderID:       rec.ID,
		UserID:        rec.UserID,
		Items:         rec.Order.Items,
		Total:         rec.Order.Total,
		Currency:      rec.Order.Currency,
		PaymentMethod: rec.Order.PaymentMethod,
		CreatedAt:     rec.CreatedAt,
	})
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal order event: %w", err)
	}
	return OutboxEvent{
		ID:          uuid.New().String(),
		AggregateID: rec.ID,
		EventType:   EventOrderCreated,
		Payload:     payload,
		CreatedAt:   rec.CreatedAt,
	}, nil
}
