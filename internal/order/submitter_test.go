package order

import (
	"context"
	"errors"
	"testing"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockService struct {
	conf  domain.OrderConfirmation
	err   error
	calls int
}

func (m *mockService) CreateOrder(context.Context, domain.Order) (domain.OrderConfirmation, error) {
	m.calls++
	return m.conf, m.err
}

func validOrder() domain.Order {
	return domain.Order{
		IdempotencyKey: "key-1",
		Items:          []domain.OrderLine{{ProductID: "p1", Quantity: 1}},
		PaymentMethod:  domain.PaymentCOD,
	}
}

func TestSubmit_ReturnsConfirmedID(t *testing.T) {
	svc := &mockService{conf: domain.OrderConfirmation{OrderID: "ord_1"}}
	s := NewSubmitter(svc, zap.NewNop())

	id, err := s.Submit(context.Background(), validOrder())
	require.NoError(t, err)
	assert.Equal(t, "ord_1", id)
	assert.Equal(t, 1, svc.calls)
}

func TestSubmit_NoRetryOnFailure(t *testing.T) {
	boom := errors.New("503")
	svc := &mockService{err: boom}
	s := NewSubmitter(svc, zap.NewNop())

	_, err := s.Submit(context.Background(), validOrder())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, svc.calls)
}

func TestSubmit_EmptyIDIsUnconfirmed(t *testing.T) {
	s := NewSubmitter(&mockService{conf: domain.OrderConfirmation{OrderID: "  "}}, zap.NewNop())

	_, err := s.Submit(context.Background(), validOrder())
	assert.ErrorIs(t, err, ErrUnconfirmed)
}

func TestSubmit_RejectsIncompleteOrders(t *testing.T) {
	svc := &mockService{}
	s := NewSubmitter(svc, zap.NewNop())

	empty := validOrder()
	empty.Items = nil
	_, err := s.Submit(context.Background(), empty)
	assert.ErrorIs(t, err, ErrEmptyOrder)

	noKey := validOrder()
	noKey.IdempotencyKey = ""
	_, err = s.Submit(context.Background(), noKey)
	assert.ErrorIs(t, err, ErrMissingIdempotent)

	assert.Zero(t, svc.calls)
}
