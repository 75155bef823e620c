package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockGateway struct {
	orderID   string
	createErr error
	valid     bool
	verifyErr error
	verified  []domain.PaymentInfo
}

func (m *mockGateway) CreatePaymentOrder(_ context.Context, amount decimal.Decimal, currency string) (domain.PaymentOrder, error) {
	if m.createErr != nil {
		return domain.PaymentOrder{}, m.createErr
	}
	return domain.PaymentOrder{ID: m.orderID, Amount: amount, Currency: currency, KeyID: "key_test"}, nil
}

func (m *mockGateway) VerifyPayment(_ context.Context, info domain.PaymentInfo) (bool, error) {
	m.verified = append(m.verified, info)
	return m.valid, m.verifyErr
}

type mockIntegration struct {
	m      sync.Mutex
	ch     chan Outcome
	closed []string
}

func (i *mockIntegration) Open(context.Context, *Session) (<-chan Outcome, error) {
	i.ch = make(chan Outcome, 1)
	return i.ch, nil
}

func (i *mockIntegration) Close(orderID string) {
	i.m.Lock()
	defer i.m.Unlock()
	i.closed = append(i.closed, orderID)
}

type countingLoader struct {
	calls int
	err   error
	integ Integration
}

func (l *countingLoader) Load(context.Context) (Integration, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.integ, nil
}

func receive(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(time.Second):
		t.Fatal("no outcome delivered")
		return Outcome{}
	}
}

func TestBegin_LoadsIntegrationOnce(t *testing.T) {
	integ := &mockIntegration{}
	loader := &countingLoader{integ: integ}
	a := NewAdapter(&mockGateway{orderID: "order_1"}, loader, zap.NewNop())
	ctx := context.Background()

	_, _, err := a.Begin(ctx, decimal.NewFromInt(10), "INR", Prefill{})
	require.NoError(t, err)
	_, _, err = a.Begin(ctx, decimal.NewFromInt(10), "INR", Prefill{})
	require.NoError(t, err)

	assert.Equal(t, 1, loader.calls)
}

func TestBegin_RetriesFailedLoad(t *testing.T) {
	loader := &countingLoader{err: errors.New("script blocked")}
	a := NewAdapter(&mockGateway{orderID: "order_1"}, loader, zap.NewNop())
	ctx := context.Background()

	_, _, err := a.Begin(ctx, decimal.NewFromInt(10), "INR", Prefill{})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	loader.err = nil
	loader.integ = &mockIntegration{}
	_, _, err = a.Begin(ctx, decimal.NewFromInt(10), "INR", Prefill{})
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls)
}

func TestBegin_RejectsNonPositiveAmount(t *testing.T) {
	a := NewAdapter(&mockGateway{}, &countingLoader{integ: &mockIntegration{}}, zap.NewNop())

	_, _, err := a.Begin(context.Background(), decimal.Zero, "INR", Prefill{})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestBegin_DeliversSingleOutcome(t *testing.T) {
	integ := &mockIntegration{}
	a := NewAdapter(&mockGateway{orderID: "order_1"}, &countingLoader{integ: integ}, zap.NewNop())

	s, ch, err := a.Begin(context.Background(), decimal.NewFromInt(10), "INR", Prefill{})
	require.NoError(t, err)
	assert.Equal(t, "order_1", s.OrderID)

	integ.ch <- Dismissed()
	assert.Equal(t, OutcomeDismissed, receive(t, ch).Kind)

	_, open := <-ch
	assert.False(t, open)
}

func TestBegin_ContextEndClosesSession(t *testing.T) {
	integ := &mockIntegration{}
	a := NewAdapter(&mockGateway{orderID: "order_1"}, &countingLoader{integ: integ}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	_, ch, err := a.Begin(ctx, decimal.NewFromInt(10), "INR", Prefill{})
	require.NoError(t, err)
	cancel()

	assert.Equal(t, OutcomeDismissed, receive(t, ch).Kind)
	integ.m.Lock()
	assert.Equal(t, []string{"order_1"}, integ.closed)
	integ.m.Unlock()
}

func TestVerify(t *testing.T) {
	s := &Session{OrderID: "order_1"}
	good := Success(domain.PaymentInfo{GatewayOrderID: "order_1", PaymentID: "pay_1", Signature: "sig"})

	t.Run("valid signature", func(t *testing.T) {
		gw := &mockGateway{valid: true}
		a := NewAdapter(gw, nil, zap.NewNop())

		info, err := a.Verify(context.Background(), s, good)
		require.NoError(t, err)
		assert.Equal(t, "pay_1", info.PaymentID)
		assert.Len(t, gw.verified, 1)
	})

	t.Run("invalid signature", func(t *testing.T) {
		a := NewAdapter(&mockGateway{valid: false}, nil, zap.NewNop())

		_, err := a.Verify(context.Background(), s, good)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("other order", func(t *testing.T) {
		gw := &mockGateway{valid: true}
		a := NewAdapter(gw, nil, zap.NewNop())
		other := Success(domain.PaymentInfo{GatewayOrderID: "order_2", PaymentID: "pay_1", Signature: "sig"})

		_, err := a.Verify(context.Background(), s, other)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
		assert.Empty(t, gw.verified)
	})

	t.Run("not a success", func(t *testing.T) {
		a := NewAdapter(&mockGateway{valid: true}, nil, zap.NewNop())

		_, err := a.Verify(context.Background(), s, Failure("card declined"))
		assert.ErrorIs(t, err, ErrNotSuccessful)
	})

	t.Run("transport error", func(t *testing.T) {
		boom := errors.New("timeout")
		a := NewAdapter(&mockGateway{verifyErr: boom}, nil, zap.NewNop())

		_, err := a.Verify(context.Background(), s, good)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrSignatureInvalid)
	})
}
