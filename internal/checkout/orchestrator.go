// Package checkout sequences address resolution, payment method selection,
// the optional online payment handshake and order submission as an explicit
// state machine.
package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/metrics"
	"github.com/fjod/go_storefront/internal/payment"
	"github.com/fjod/go_storefront/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AddressBook interface {
	ListAddresses(ctx context.Context) ([]domain.Address, error)
	CreateAddress(ctx context.Context, a domain.Address) (domain.Address, error)
}

type ConfigSource interface {
	StoreConfig(ctx context.Context) (domain.StoreConfig, error)
}

type CouponValidator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*domain.AppliedCoupon, error)
}

type PaymentFlow interface {
	Begin(ctx context.Context, amount decimal.Decimal, currency string, prefill payment.Prefill) (*payment.Session, <-chan payment.Outcome, error)
	Verify(ctx context.Context, s *payment.Session, o payment.Outcome) (domain.PaymentInfo, error)
}

type OrderSubmitter interface {
	Submit(ctx context.Context, o domain.Order) (string, error)
}

type Deps struct {
	Cart      cart.Service
	Addresses AddressBook
	Store     ConfigSource
	Coupons   CouponValidator
	Payments  PaymentFlow
	Orders    OrderSubmitter
}

type Config struct {
	// GatewayTimeout bounds the wait for the hosted payment page. Zero waits
	// forever.
	GatewayTimeout time.Duration
}

type Result struct {
	OrderID string
	Order   domain.Order
}

// attempt ties an idempotency key, and any payment already verified for it,
// to the exact cart, address, coupon and method it was made for.
type attempt struct {
	fingerprint string
	key         string
	paid        *domain.PaymentInfo
}

type Orchestrator struct {
	deps    Deps
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newKey  func() string

	mu          sync.Mutex
	state       State
	storeCfg    domain.StoreConfig
	addresses   []domain.Address
	preselected string
	address     *domain.Address
	coupon      *domain.AppliedCoupon
	failure     string
	orderID     string
	attempt     attempt
}

func NewOrchestrator(cfg Config, deps Deps, log *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if m == nil {
		m = metrics.Nop()
	}
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		log:     log,
		metrics: m,
		now:     time.Now,
		newKey:  uuid.NewString,
		state:   StateSelectingAddress,
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Failure is the reason of the last failed attempt.
func (o *Orchestrator) Failure() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failure
}

func (o *Orchestrator) OrderID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.orderID
}

// Start opens a checkout session: it loads the store configuration and the
// saved addresses and preselects the default one.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	inFlight, paid := o.state.InFlight(), o.attempt.paid != nil
	o.mu.Unlock()
	if inFlight {
		return ErrCheckoutInProgress
	}
	if paid {
		return ErrPaymentPending
	}

	snap := o.deps.Cart.Snapshot()
	if !snap.Hydrated {
		return cart.ErrNotHydrated
	}
	if snap.Empty() {
		return ErrEmptyCart
	}

	storeCfg, err := o.deps.Store.StoreConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load store configuration: %w", err)
	}
	addrs, err := o.deps.Addresses.ListAddresses(ctx)
	if err != nil {
		// a new address can still be entered
		o.log.Warn("failed to load address book", zap.Error(err))
		addrs = nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateSelectingAddress
	o.storeCfg = storeCfg
	o.addresses = addrs
	o.address = nil
	o.preselected = ""
	o.coupon = nil
	o.failure = ""
	o.orderID = ""
	o.attempt = attempt{}
	if def, ok := domain.DefaultAddress(addrs); ok && def.Validate() == nil {
		o.preselected = def.ID
	}
	o.log.Info("checkout started",
		zap.Int("lines", len(snap.Lines)),
		zap.Int("addresses", len(addrs)),
		zap.Strings("payment_methods", methodNames(storeCfg.PaymentMethods())))
	return nil
}

func (o *Orchestrator) Addresses() []domain.Address {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Address(nil), o.addresses...)
}

// PreselectedAddressID is the default address chosen by Start, empty when
// there is none.
func (o *Orchestrator) PreselectedAddressID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.preselected
}

// Address returns a copy of the resolved shipping address.
func (o *Orchestrator) Address() (domain.Address, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.address == nil {
		return domain.Address{}, false
	}
	return *o.address, true
}

// SelectAddress resolves the shipping address to a saved one and moves on to
// payment selection.
func (o *Orchestrator) SelectAddress(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.expect(StateSelectingAddress); err != nil {
		return err
	}

	for _, a := range o.addresses {
		if a.ID != id {
			continue
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrAddressRequired, err)
		}
		n := a.Normalize()
		o.address = &n
		return o.transition(StateSelectingPayment)
	}
	return ErrAddressNotFound
}

// UseNewAddress validates a new address locally and, when save is set, adds
// it to the address book before moving on to payment selection.
func (o *Orchestrator) UseNewAddress(ctx context.Context, a domain.Address, save bool) error {
	o.mu.Lock()
	err := o.expect(StateSelectingAddress)
	o.mu.Unlock()
	if err != nil {
		return err
	}

	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrAddressRequired, err)
	}
	a = a.Normalize()
	if save {
		saved, err := o.deps.Addresses.CreateAddress(ctx, a)
		if err != nil {
			return fmt.Errorf("failed to save address: %w", err)
		}
		a = saved.Normalize()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.expect(StateSelectingAddress); err != nil {
		return err
	}
	if save {
		o.addresses = append(o.addresses, a)
	}
	o.address = &a
	return o.transition(StateSelectingPayment)
}

// ChangeAddress goes back to address selection.
func (o *Orchestrator) ChangeAddress() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.mutable(); err != nil {
		return err
	}
	return o.transition(StateSelectingAddress)
}

// Retry returns a failed attempt to payment selection. Cart, address, payment
// selection and coupon are all kept.
func (o *Orchestrator) Retry() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.expect(StateFailed); err != nil {
		return err
	}
	return o.transition(StateSelectingPayment)
}

func (o *Orchestrator) PaymentMethods() []domain.PaymentMethod {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.storeCfg.PaymentMethods()
}

// ApplyCoupon validates code against the current subtotal. A rejected coupon
// leaves any previously applied one in place.
func (o *Orchestrator) ApplyCoupon(ctx context.Context, code string) (*domain.AppliedCoupon, error) {
	o.mu.Lock()
	if err := o.mutable(); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if o.state.IsTerminal() {
		o.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	o.mu.Unlock()

	c, err := o.deps.Coupons.Validate(ctx, code, o.deps.Cart.Snapshot().Subtotal())
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.mutable(); err != nil {
		return nil, err
	}
	o.coupon = c
	applied := *c
	return &applied, nil
}

func (o *Orchestrator) RemoveCoupon() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.mutable(); err != nil {
		return err
	}
	o.coupon = nil
	return nil
}

func (o *Orchestrator) Coupon() (domain.AppliedCoupon, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.coupon == nil {
		return domain.AppliedCoupon{}, false
	}
	return *o.coupon, true
}

// Totals prices the current cart under the store configuration and coupon.
func (o *Orchestrator) Totals() pricing.Breakdown {
	o.mu.Lock()
	storeCfg, c := o.storeCfg, o.coupon
	o.mu.Unlock()
	return pricing.Compute(o.deps.Cart.Snapshot().Subtotal(), storeCfg, c)
}

// PlaceOrder runs one submission attempt with method. It blocks through the
// online payment handshake. The cart is cleared only after the order service
// confirmed an order id.
func (o *Orchestrator) PlaceOrder(ctx context.Context, method domain.PaymentMethod) (Result, error) {
	draft, online, err := o.begin(method)
	if err != nil {
		return Result{}, err
	}
	log := o.log.With(zap.String("idempotency_key", draft.IdempotencyKey))

	if online {
		prefill := payment.Prefill{Name: draft.ShippingAddress.Name, Phone: draft.ShippingAddress.Phone}
		info, err := o.collectPayment(ctx, log, draft.Total, draft.Currency, prefill)
		if err != nil {
			return Result{}, err
		}
		draft.PaymentInfo = &info
	}
	return o.submit(ctx, log, draft)
}

// begin checks every precondition, builds the price-locked order and leaves
// the machine in Submitting or AwaitingGatewayHandshake.
func (o *Orchestrator) begin(method domain.PaymentMethod) (domain.Order, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.InFlight() {
		return domain.Order{}, false, ErrCheckoutInProgress
	}
	if err := o.expect(StateSelectingPayment); err != nil {
		return domain.Order{}, false, err
	}
	if o.address == nil {
		return domain.Order{}, false, ErrAddressRequired
	}
	if err := o.address.Validate(); err != nil {
		return domain.Order{}, false, fmt.Errorf("%w: %w", ErrAddressRequired, err)
	}
	if len(o.storeCfg.PaymentMethods()) == 0 {
		return domain.Order{}, false, ErrNoPaymentMethod
	}
	if !o.storeCfg.Allows(method) {
		return domain.Order{}, false, fmt.Errorf("%w: %s", ErrMethodUnavailable, method)
	}

	snap := o.deps.Cart.Snapshot()
	if snap.Empty() {
		return domain.Order{}, false, ErrEmptyCart
	}
	subtotal := snap.Subtotal()
	totals := pricing.Compute(subtotal, o.storeCfg, o.coupon)
	couponCode := ""
	if o.coupon != nil && pricing.MeetsMinimum(subtotal, o.coupon.MinOrderAmount) {
		couponCode = o.coupon.Code
	}

	fp := fingerprint(snap.Lines, *o.address, couponCode, method)
	if fp != o.attempt.fingerprint {
		if o.attempt.paid != nil {
			// the captured amount only settles the order it was paid for
			o.log.Warn("checkout changed after payment was captured",
				zap.String("payment_id", o.attempt.paid.PaymentID))
			return domain.Order{}, false, ErrPaymentPending
		}
		o.attempt = attempt{fingerprint: fp, key: o.newKey()}
	}

	draft := domain.Order{
		IdempotencyKey:  o.attempt.key,
		Items:           domain.LockLines(snap.Lines),
		ShippingAddress: *o.address,
		PaymentMethod:   method,
		CouponCode:      couponCode,
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		Shipping:        totals.Shipping,
		Discount:        totals.Discount,
		Total:           totals.Total,
		Currency:        o.storeCfg.Currency,
		CreatedAt:       o.now(),
	}
	o.failure = ""

	online := method == domain.PaymentOnline && o.attempt.paid == nil
	if method == domain.PaymentOnline && o.attempt.paid != nil {
		// already paid and verified for this exact attempt
		paid := *o.attempt.paid
		draft.PaymentInfo = &paid
	}
	next := StateSubmitting
	if online {
		next = StateAwaitingGatewayHandshake
	}
	if err := o.transition(next); err != nil {
		return domain.Order{}, false, err
	}
	return draft, online, nil
}

func (o *Orchestrator) collectPayment(ctx context.Context, log *zap.Logger, amount decimal.Decimal, currency string, prefill payment.Prefill) (domain.PaymentInfo, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, outcomes, err := o.deps.Payments.Begin(waitCtx, amount, currency, prefill)
	if err != nil {
		o.fail(log, err.Error())
		return domain.PaymentInfo{}, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}
	log = log.With(zap.String("gateway_order_id", session.OrderID))
	if err := o.moveTo(StateAwaitingGatewayCallback); err != nil {
		return domain.PaymentInfo{}, err
	}
	if session.CheckoutURL != "" {
		log.Info("waiting for payment", zap.String("checkout_url", session.CheckoutURL))
	}

	var timeout <-chan time.Time
	if o.cfg.GatewayTimeout > 0 {
		t := time.NewTimer(o.cfg.GatewayTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case out := <-outcomes:
		switch out.Kind {
		case payment.OutcomeDismissed:
			if ctx.Err() != nil {
				o.abandon(log, ctx.Err().Error())
				return domain.PaymentInfo{}, ctx.Err()
			}
			if err := o.moveTo(StateSelectingPayment); err != nil {
				return domain.PaymentInfo{}, err
			}
			o.metrics.CheckoutOutcomes.WithLabelValues(metrics.OutcomeDismissed).Inc()
			log.Info("payment dismissed")
			return domain.PaymentInfo{}, ErrPaymentDismissed
		case payment.OutcomeFailure:
			o.fail(log, out.Reason)
			return domain.PaymentInfo{}, fmt.Errorf("%w: %s", ErrPaymentFailed, out.Reason)
		default:
			info, err := o.deps.Payments.Verify(ctx, session, out)
			if err != nil {
				o.fail(log, err.Error())
				return domain.PaymentInfo{}, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
			}
			o.mu.Lock()
			o.attempt.paid = &info
			err = o.transition(StateSubmitting)
			o.mu.Unlock()
			if err != nil {
				return domain.PaymentInfo{}, err
			}
			return info, nil
		}
	case <-timeout:
		cancel()
		o.abandon(log, "gateway timeout")
		return domain.PaymentInfo{}, ErrGatewayTimeout
	case <-ctx.Done():
		o.abandon(log, ctx.Err().Error())
		return domain.PaymentInfo{}, ctx.Err()
	}
}

func (o *Orchestrator) submit(ctx context.Context, log *zap.Logger, draft domain.Order) (Result, error) {
	id, err := o.deps.Orders.Submit(ctx, draft)
	if err != nil {
		o.fail(log, err.Error())
		return Result{}, err
	}

	o.mu.Lock()
	o.orderID = id
	err = o.transition(StateCompleted)
	o.coupon = nil
	o.attempt = attempt{}
	o.mu.Unlock()
	if err != nil {
		return Result{}, err
	}

	if err := o.deps.Cart.Clear(ctx); err != nil {
		log.Error("order confirmed but cart could not be cleared", zap.String("order_id", id), zap.Error(err))
	}
	o.metrics.CheckoutOutcomes.WithLabelValues(metrics.OutcomeCompleted).Inc()
	return Result{OrderID: id, Order: draft}, nil
}

func (o *Orchestrator) fail(log *zap.Logger, reason string) {
	o.mu.Lock()
	o.failure = reason
	err := o.transition(StateFailed)
	o.mu.Unlock()
	if err != nil {
		log.Error("could not record checkout failure", zap.Error(err))
	}
	o.metrics.CheckoutOutcomes.WithLabelValues(metrics.OutcomeFailed).Inc()
	log.Warn("checkout attempt failed", zap.String("reason", reason))
}

// abandon follows the timeout edge back to payment selection. It is not a
// failure and leaves the cart untouched.
func (o *Orchestrator) abandon(log *zap.Logger, reason string) {
	if err := o.moveTo(StateSelectingPayment); err != nil {
		log.Error("could not abandon payment", zap.Error(err))
	}
	o.metrics.CheckoutOutcomes.WithLabelValues(metrics.OutcomeAbandoned).Inc()
	log.Info("payment abandoned", zap.String("reason", reason))
}

// mutable reports whether the selections may change. It must be called with
// mu held.
func (o *Orchestrator) mutable() error {
	if o.state.InFlight() {
		return ErrCheckoutInProgress
	}
	if o.attempt.paid != nil {
		return ErrPaymentPending
	}
	return nil
}

func (o *Orchestrator) moveTo(to State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transition(to)
}

// transition must be called with mu held.
func (o *Orchestrator) transition(to State) error {
	from := o.state
	if !from.CanTransitionTo(to) {
		o.log.Warn("invalid checkout transition", zap.Stringer("from", from), zap.Stringer("to", to))
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	o.state = to
	o.log.Info("checkout transition", zap.Stringer("from", from), zap.Stringer("to", to))
	return nil
}

// expect must be called with mu held.
func (o *Orchestrator) expect(s State) error {
	if o.state == s {
		return nil
	}
	if o.state.InFlight() {
		return ErrCheckoutInProgress
	}
	return fmt.Errorf("%w: in %s, expected %s", ErrInvalidTransition, o.state, s)
}

func fingerprint(lines []domain.CartLine, a domain.Address, couponCode string, method domain.PaymentMethod) string {
	h := sha256.New()
	for _, l := range lines {
		fmt.Fprintf(h, "%s|%s|%d|%s\n", l.Product.ID, l.Variant.Key(), l.Quantity, l.UnitPrice.String())
	}
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s|%s\n", a.ID, a.Name, a.Phone, a.Line1, a.Line2, a.City, a.Pincode, a.Address)
	fmt.Fprintf(h, "%s|%s", couponCode, method)
	return hex.EncodeToString(h.Sum(nil))
}

func methodNames(methods []domain.PaymentMethod) []string {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		out = append(out, string(m))
	}
	return out
}

// IsSoftStop reports whether err ended an attempt without failing it: the
// shopper dismissed the payment or abandoned it.
func IsSoftStop(err error) bool {
	return errors.Is(err, ErrPaymentDismissed) || errors.Is(err, ErrGatewayTimeout)
}
