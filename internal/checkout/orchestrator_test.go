package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/coupon"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memPersister struct {
	lines []domain.CartLine
}

func (m *memPersister) LoadCart(context.Context) ([]domain.CartLine, error) { return m.lines, nil }

func (m *memPersister) SaveCart(_ context.Context, lines []domain.CartLine) error {
	m.lines = lines
	return nil
}

type mockAddressBook struct {
	addresses []domain.Address
	listErr   error
	created   []domain.Address
}

func (m *mockAddressBook) ListAddresses(context.Context) ([]domain.Address, error) {
	return m.addresses, m.listErr
}

func (m *mockAddressBook) CreateAddress(_ context.Context, a domain.Address) (domain.Address, error) {
	a.ID = "new-addr"
	m.created = append(m.created, a)
	return a, nil
}

type mockStoreConfig struct {
	cfg domain.StoreConfig
}

func (m *mockStoreConfig) StoreConfig(context.Context) (domain.StoreConfig, error) {
	return m.cfg, nil
}

type mockCoupons struct {
	coupon *domain.AppliedCoupon
	err    error
}

func (m *mockCoupons) Validate(_ context.Context, code string, subtotal decimal.Decimal) (*domain.AppliedCoupon, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.coupon == nil {
		return nil, &coupon.RejectionError{Code: code, Reason: domain.CouponNotFound}
	}
	c := *m.coupon
	c.Code = code
	return &c, nil
}

type mockPayments struct {
	m         sync.Mutex
	outcomes  chan payment.Outcome
	beginErr  error
	begins    int
	amount    decimal.Decimal
	verifyErr error
	verified  int
}

func (p *mockPayments) Begin(_ context.Context, amount decimal.Decimal, _ string, _ payment.Prefill) (*payment.Session, <-chan payment.Outcome, error) {
	p.m.Lock()
	defer p.m.Unlock()
	p.begins++
	p.amount = amount
	if p.beginErr != nil {
		return nil, nil, p.beginErr
	}
	return &payment.Session{OrderID: "gw_1", Amount: amount}, p.outcomes, nil
}

func (p *mockPayments) Verify(_ context.Context, _ *payment.Session, o payment.Outcome) (domain.PaymentInfo, error) {
	p.m.Lock()
	defer p.m.Unlock()
	p.verified++
	if p.verifyErr != nil {
		return domain.PaymentInfo{}, p.verifyErr
	}
	return *o.Payment, nil
}

type mockOrders struct {
	m      sync.Mutex
	id     string
	err    error
	orders []domain.Order
}

func (m *mockOrders) Submit(_ context.Context, o domain.Order) (string, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.orders = append(m.orders, o)
	if m.err != nil {
		return "", m.err
	}
	return m.id, nil
}

func (m *mockOrders) submitted() []domain.Order {
	m.m.Lock()
	defer m.m.Unlock()
	return append([]domain.Order(nil), m.orders...)
}

type fixture struct {
	cart      *cart.Store
	addresses *mockAddressBook
	store     *mockStoreConfig
	coupons   *mockCoupons
	payments  *mockPayments
	orders    *mockOrders
	o         *Orchestrator
}

var home = domain.Address{
	ID:        "addr-1",
	Name:      "Asha",
	Phone:     "9999999999",
	Line1:     "12 Lake Road",
	City:      "Pune",
	Pincode:   "411001",
	Label:     domain.LabelHome,
	IsDefault: true,
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	c := cart.NewStore(&memPersister{}, zap.NewNop(), nil)
	require.NoError(t, c.Hydrate(context.Background()))
	_, err := c.AddLine(context.Background(), domain.Product{
		ID: "shirt", Name: "Shirt", Price: decimal.NewFromInt(500), Stock: 10,
	}, 2, domain.Variant("Blue", "M", ""))
	require.NoError(t, err)

	f := &fixture{
		cart:      c,
		addresses: &mockAddressBook{addresses: []domain.Address{home}},
		store: &mockStoreConfig{cfg: domain.StoreConfig{
			CODEnabled:    true,
			OnlineEnabled: true,
			Currency:      "INR",
			TaxRate:       decimal.NewFromInt(5),
			ShippingFee:   decimal.NewFromInt(40),
		}},
		coupons:  &mockCoupons{},
		payments: &mockPayments{outcomes: make(chan payment.Outcome, 1)},
		orders:   &mockOrders{id: "ord_1"},
	}
	f.o = NewOrchestrator(cfg, Deps{
		Cart:      f.cart,
		Addresses: f.addresses,
		Store:     f.store,
		Coupons:   f.coupons,
		Payments:  f.payments,
		Orders:    f.orders,
	}, zap.NewNop(), nil)
	return f
}

func (f *fixture) toPayment(t *testing.T) {
	t.Helper()
	require.NoError(t, f.o.Start(context.Background()))
	require.NoError(t, f.o.SelectAddress(f.o.PreselectedAddressID()))
	require.Equal(t, StateSelectingPayment, f.o.State())
}

func success() payment.Outcome {
	return payment.Success(domain.PaymentInfo{GatewayOrderID: "gw_1", PaymentID: "pay_1", Signature: "sig"})
}

func TestPlaceOrder_COD(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)

	res, err := f.o.PlaceOrder(context.Background(), domain.PaymentCOD)
	require.NoError(t, err)

	assert.Equal(t, "ord_1", res.OrderID)
	assert.Equal(t, StateCompleted, f.o.State())
	assert.True(t, f.cart.Snapshot().Empty())
	assert.Zero(t, f.payments.begins)

	orders := f.orders.submitted()
	require.Len(t, orders, 1)
	o := orders[0]
	assert.NotEmpty(t, o.IdempotencyKey)
	assert.Equal(t, "Asha", o.ShippingAddress.Name)
	assert.Nil(t, o.PaymentInfo)
	require.Len(t, o.Items, 1)
	assert.True(t, o.Items[0].Variant.Equal(domain.Variant("Blue", "M", "")))
	// 1000 + 5% tax + 40 shipping
	assert.True(t, decimal.NewFromInt(1090).Equal(o.Total), o.Total.String())
}

func TestStart_EmptyCart(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.cart.Clear(context.Background()))

	assert.ErrorIs(t, f.o.Start(context.Background()), ErrEmptyCart)
}

func TestStart_PreselectsFirstAddressWithoutDefault(t *testing.T) {
	f := newFixture(t, Config{})
	office := home
	office.ID, office.IsDefault, office.Label = "addr-2", false, domain.LabelOffice
	other := home
	other.ID, other.IsDefault = "addr-3", false
	f.addresses.addresses = []domain.Address{office, other}

	require.NoError(t, f.o.Start(context.Background()))
	assert.Equal(t, "addr-2", f.o.PreselectedAddressID())
}

func TestStart_AddressBookFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, Config{})
	f.addresses.listErr = errors.New("unavailable")

	require.NoError(t, f.o.Start(context.Background()))
	assert.Empty(t, f.o.PreselectedAddressID())
	assert.Equal(t, StateSelectingAddress, f.o.State())
}

func TestPlaceOrder_RequiresResolvedAddress(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.o.Start(context.Background()))

	_, err := f.o.PlaceOrder(context.Background(), domain.PaymentCOD)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, f.orders.submitted())
}

func TestUseNewAddress_ValidatesBeforeNetwork(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.o.Start(context.Background()))

	err := f.o.UseNewAddress(context.Background(), domain.Address{Name: "Asha", City: "Pune"}, true)
	require.ErrorIs(t, err, ErrAddressRequired)
	var addrErr *domain.AddressError
	require.ErrorAs(t, err, &addrErr)
	assert.ElementsMatch(t, []string{"phone", "line1", "pincode"}, addrErr.Fields)
	assert.Empty(t, f.addresses.created)
	assert.Equal(t, StateSelectingAddress, f.o.State())
}

func TestUseNewAddress_LegacyFormAndSave(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.o.Start(context.Background()))

	err := f.o.UseNewAddress(context.Background(), domain.Address{
		Name: "Ravi", Phone: "8888888888", Address: "4 Hill View", City: "Goa", Pincode: "403001",
	}, true)
	require.NoError(t, err)

	assert.Equal(t, StateSelectingPayment, f.o.State())
	require.Len(t, f.addresses.created, 1)
	a, ok := f.o.Address()
	require.True(t, ok)
	assert.Equal(t, "new-addr", a.ID)
	assert.Equal(t, "4 Hill View", a.Line1)
}

func TestPaymentMethods_BothDisabled(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.cfg.CODEnabled = false
	f.store.cfg.OnlineEnabled = false
	f.toPayment(t)

	assert.Empty(t, f.o.PaymentMethods())
	for _, m := range []domain.PaymentMethod{domain.PaymentCOD, domain.PaymentOnline} {
		_, err := f.o.PlaceOrder(context.Background(), m)
		assert.ErrorIs(t, err, ErrNoPaymentMethod)
	}
	assert.Equal(t, StateSelectingPayment, f.o.State())
	assert.Empty(t, f.orders.submitted())
}

func TestPlaceOrder_MethodUnavailable(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.cfg.OnlineEnabled = false
	f.toPayment(t)

	assert.Equal(t, []domain.PaymentMethod{domain.PaymentCOD}, f.o.PaymentMethods())
	_, err := f.o.PlaceOrder(context.Background(), domain.PaymentOnline)
	assert.ErrorIs(t, err, ErrMethodUnavailable)
}

func TestPlaceOrder_OnlineVerifiedSuccess(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)
	f.payments.outcomes <- success()

	res, err := f.o.PlaceOrder(context.Background(), domain.PaymentOnline)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, f.o.State())
	assert.Equal(t, 1, f.payments.verified)
	require.NotNil(t, res.Order.PaymentInfo)
	assert.Equal(t, "pay_1", res.Order.PaymentInfo.PaymentID)
	assert.True(t, res.Order.Total.Equal(f.payments.amount))
	assert.True(t, f.cart.Snapshot().Empty())
}

func TestPlaceOrder_UnverifiedSuccessIsNeverSubmitted(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)
	f.payments.verifyErr = payment.ErrSignatureInvalid
	f.payments.outcomes <- success()

	_, err := f.o.PlaceOrder(context.Background(), domain.PaymentOnline)
	require.ErrorIs(t, err, payment.ErrSignatureInvalid)
	assert.ErrorIs(t, err, ErrPaymentFailed)

	assert.Equal(t, StateFailed, f.o.State())
	assert.Empty(t, f.orders.submitted())
	assert.False(t, f.cart.Snapshot().Empty())
}

func TestPlaceOrder_DismissedReturnsToPaymentSelection(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)
	before := f.cart.Snapshot()
	f.payments.outcomes <- payment.Dismissed()

	_, err := f.o.PlaceOrder(context.Background(), domain.PaymentOnline)
	require.ErrorIs(t, err, ErrPaymentDismissed)
	assert.True(t, IsSoftStop(err))

	assert.Equal(t, StateSelectingPayment, f.o.State())
	assert.Equal(t, before, f.cart.Snapshot())
	a, ok := f.o.Address()
	require.True(t, ok)
	assert.Equal(t, "addr-1", a.ID)
	assert.Empty(t, f.orders.submitted())
	assert.Empty(t, f.o.Failure())
}

func TestPlaceOrder_GatewayFailureThenRetry(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)
	_, err := f.o.ApplyCoupon(context.Background(), "FLAT50")
	require.Error(t, err)
	f.coupons.coupon = &domain.AppliedCoupon{DiscountType: domain.DiscountFixed, Value: decimal.NewFromInt(50)}
	_, err = f.o.ApplyCoupon(context.Background(), "FLAT50")
	require.NoError(t, err)

	f.payments.outcomes <- payment.Failure("card declined")
	_, err = f.o.PlaceOrder(context.Background(), domain.PaymentOnline)
	require.ErrorIs(t, err, ErrPaymentFailed)
	assert.Equal(t, StateFailed, f.o.State())
	assert.Equal(t, "card declined", f.o.Failure())

	require.NoError(t, f.o.Retry())
	assert.Equal(t, StateSelectingPayment, f.o.State())
	c, ok := f.o.Coupon()
	require.True(t, ok)
	assert.Equal(t, "FLAT50", c.Code)
	_, ok = f.o.Address()
	assert.True(t, ok)
	assert.False(t, f.cart.Snapshot().Empty())
}

func TestPlaceOrder_GatewayTimeoutIsAbandoned(t *testing.T) {
	f := newFixture(t, Config{GatewayTimeout: 30 * time.Millisecond})
	f.toPayment(t)

	_, err := f.o.PlaceOrder(context.Background(), domain.PaymentOnline)
	require.ErrorIs(t, err, ErrGatewayTimeout)

	assert.Equal(t, StateSelectingPayment, f.o.State())
	assert.False(t, f.cart.Snapshot().Empty())
	assert.Empty(t, f.orders.submitted())
}

func TestPlaceOrder_SubmissionFailureKeepsCartAndKey(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)
	f.orders.err = errors.New("504 gateway timeout")

	_, err := f.o.PlaceOrder(context.Background(), domain.PaymentCOD)
	require.Error(t, err)
	assert.Equal(t, StateFailed, f.o.State())
	assert.False(t, f.cart.Snapshot().Empty())

	require.NoError(t, f.o.Retry())
	f.orders.err = nil
	_, err = f.o.PlaceOrder(context.Background(), domain.PaymentCOD)
	require.NoError(t, err)

	orders := f.orders.submitted()
	require.Len(t, orders, 2)
	assert.Equal(t, orders[0].IdempotencyKey, orders[1].IdempotencyKey)
}

func TestPlaceOrder_RetryAfterPaidSubmissionFailureDoesNotChargeTwice(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)
	f.orders.err = errors.New("connection reset")
	f.payments.outcomes <- success()

	_, err := f.o.PlaceOrder(context.Background(), domain.PaymentOnline)
	require.Error(t, err)
	require.NoError(t, f.o.Retry())

	f.orders.err = nil
	res, err := f.o.PlaceOrder(context.Background(), domain.PaymentOnline)
	require.NoError(t, err)

	assert.Equal(t, 1, f.payments.begins)
	require.NotNil(t, res.Order.PaymentInfo)
	assert.Equal(t, "pay_1", res.Order.PaymentInfo.PaymentID)
}

func TestPlaceOrder_CapturedPaymentLocksSelections(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)
	f.orders.err = errors.New("connection reset")
	f.payments.outcomes <- success()
	f.coupons.coupon = &domain.AppliedCoupon{DiscountType: domain.DiscountFixed, Value: decimal.NewFromInt(50)}

	_, err := f.o.PlaceOrder(context.Background(), domain.PaymentOnline)
	require.Error(t, err)
	require.NoError(t, f.o.Retry())

	_, err = f.o.ApplyCoupon(context.Background(), "SAVE50")
	assert.ErrorIs(t, err, ErrPaymentPending)
	assert.ErrorIs(t, f.o.RemoveCoupon(), ErrPaymentPending)
	assert.ErrorIs(t, f.o.ChangeAddress(), ErrPaymentPending)
	assert.ErrorIs(t, f.o.Start(context.Background()), ErrPaymentPending)
	_, err = f.o.PlaceOrder(context.Background(), domain.PaymentCOD)
	assert.ErrorIs(t, err, ErrPaymentPending)
	assert.Equal(t, StateSelectingPayment, f.o.State())

	f.orders.err = nil
	res, err := f.o.PlaceOrder(context.Background(), domain.PaymentOnline)
	require.NoError(t, err)
	require.NotNil(t, res.Order.PaymentInfo)
	assert.Equal(t, "pay_1", res.Order.PaymentInfo.PaymentID)
	assert.Equal(t, 1, f.payments.begins)

	orders := f.orders.submitted()
	require.Len(t, orders, 2)
	assert.Equal(t, orders[0].IdempotencyKey, orders[1].IdempotencyKey)
}

func TestPlaceOrder_ChangedCartGetsNewKey(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)
	f.orders.err = errors.New("boom")

	_, err := f.o.PlaceOrder(context.Background(), domain.PaymentCOD)
	require.Error(t, err)
	require.NoError(t, f.o.Retry())

	_, err = f.cart.AddLine(context.Background(), domain.Product{
		ID: "cap", Price: decimal.NewFromInt(100), Stock: 1,
	}, 1, domain.NoVariant())
	require.NoError(t, err)
	_, err = f.o.PlaceOrder(context.Background(), domain.PaymentCOD)
	require.Error(t, err)

	orders := f.orders.submitted()
	require.Len(t, orders, 2)
	assert.NotEqual(t, orders[0].IdempotencyKey, orders[1].IdempotencyKey)
}

func TestPlaceOrder_UnconfirmedOrderKeepsCart(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)
	f.orders.err = errors.New("order service returned no order id")

	_, err := f.o.PlaceOrder(context.Background(), domain.PaymentCOD)
	require.Error(t, err)
	assert.Empty(t, f.o.OrderID())
	assert.False(t, f.cart.Snapshot().Empty())
}

func TestPlaceOrder_GuardsAgainstDoubleSubmission(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)
	outcomes := make(chan payment.Outcome)
	f.payments.outcomes = outcomes

	done := make(chan error, 1)
	go func() {
		_, err := f.o.PlaceOrder(context.Background(), domain.PaymentOnline)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return f.o.State() == StateAwaitingGatewayCallback
	}, time.Second, 5*time.Millisecond)

	_, err := f.o.PlaceOrder(context.Background(), domain.PaymentCOD)
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.ErrorIs(t, f.o.ChangeAddress(), ErrCheckoutInProgress)
	_, err = f.o.ApplyCoupon(context.Background(), "X")
	assert.ErrorIs(t, err, ErrCheckoutInProgress)

	outcomes <- payment.Dismissed()
	assert.ErrorIs(t, <-done, ErrPaymentDismissed)
	assert.Empty(t, f.orders.submitted())
}

func TestApplyCoupon_CapAndRejection(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)
	maxDiscount := decimal.NewFromInt(50)
	f.coupons.coupon = &domain.AppliedCoupon{
		DiscountType:      domain.DiscountPercentage,
		Value:             decimal.NewFromInt(10),
		MaxDiscountAmount: &maxDiscount,
	}

	_, err := f.o.ApplyCoupon(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50).Equal(f.o.Totals().Discount))

	f.coupons.err = &coupon.RejectionError{Code: "OLD", Reason: domain.CouponExpired}
	_, err = f.o.ApplyCoupon(context.Background(), "OLD")
	assert.True(t, coupon.IsRejection(err, domain.CouponExpired))
	c, ok := f.o.Coupon()
	require.True(t, ok)
	assert.Equal(t, "SAVE10", c.Code)

	require.NoError(t, f.o.RemoveCoupon())
	assert.True(t, f.o.Totals().Discount.IsZero())
}

func TestApplyCoupon_BackendFailureStillPlacesOrder(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)
	f.coupons.err = errors.New("coupon service down")

	_, err := f.o.ApplyCoupon(context.Background(), "SAVE10")
	require.Error(t, err)
	_, ok := f.o.Coupon()
	assert.False(t, ok)
	assert.Equal(t, StateSelectingPayment, f.o.State())

	res, err := f.o.PlaceOrder(context.Background(), domain.PaymentCOD)
	require.NoError(t, err)
	assert.Equal(t, "ord_1", res.OrderID)
	orders := f.orders.submitted()
	require.Len(t, orders, 1)
	assert.Empty(t, orders[0].CouponCode)
	assert.True(t, decimal.NewFromInt(1090).Equal(orders[0].Total))
}

func TestChangeAddress(t *testing.T) {
	f := newFixture(t, Config{})
	f.toPayment(t)

	require.NoError(t, f.o.ChangeAddress())
	assert.Equal(t, StateSelectingAddress, f.o.State())
	assert.ErrorIs(t, f.o.SelectAddress("missing"), ErrAddressNotFound)
	require.NoError(t, f.o.SelectAddress("addr-1"))
	assert.Equal(t, StateSelectingPayment, f.o.State())
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, StateAwaitingGatewayCallback.CanTransitionTo(StateSelectingPayment))
	assert.False(t, StateSelectingAddress.CanTransitionTo(StateSubmitting))
	assert.False(t, StateAwaitingGatewayHandshake.CanTransitionTo(StateSubmitting))
	assert.False(t, StateFailed.CanTransitionTo(StateSubmitting))
	for to := range transitions {
		assert.False(t, StateCompleted.CanTransitionTo(to))
	}
}
