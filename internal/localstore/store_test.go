package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, string) {
	path := filepath.Join(t.TempDir(), "storefront.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func line(id string, v domain.VariantIdentity, qty int) domain.CartLine {
	return domain.CartLine{
		Product:   domain.Product{ID: id, Name: "Product " + id, Price: decimal.NewFromInt(100), Stock: 10},
		Variant:   v,
		Quantity:  qty,
		UnitPrice: decimal.NewFromInt(100),
	}
}

func TestCart_RoundTripKeepsOrder(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	empty, err := s.LoadCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	lines := []domain.CartLine{
		line("B", domain.Variant("Blue", "M", ""), 2),
		line("A", domain.NoVariant(), 1),
		line("B", domain.Variant("Blue", "L", ""), 3),
	}
	require.NoError(t, s.SaveCart(ctx, lines))

	got, err := s.LoadCart(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "B", got[0].Product.ID)
	assert.True(t, got[0].Variant.Equal(domain.Variant("Blue", "M", "")))
	assert.True(t, got[1].Variant.IsNone())
	assert.Equal(t, 3, got[2].Quantity)
	assert.True(t, got[2].UnitPrice.Equal(decimal.NewFromInt(100)))

	require.NoError(t, s.SaveCart(ctx, lines[:1]))
	got, err = s.LoadCart(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCart_SurvivesReopen(t *testing.T) {
	s, path := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveCart(ctx, []domain.CartLine{line("A", domain.NoVariant(), 4)}))
	require.NoError(t, s.SaveSession(ctx, domain.Session{UserID: "u1", Token: "t", CartVersion: 7}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.LoadCart(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Quantity)

	sess, err := reopened.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Session{UserID: "u1", Token: "t", CartVersion: 7}, sess)
}

func TestSession_ClearGivesAnonymous(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	sess, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.False(t, sess.Authenticated())

	require.NoError(t, s.SaveSession(ctx, domain.Session{UserID: "u1", Token: "t"}))
	require.NoError(t, s.SaveSession(ctx, domain.Session{UserID: "u1", Token: "t2", CartVersion: 3}))
	sess, err = s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t2", sess.Token)

	require.NoError(t, s.ClearSession(ctx))
	sess, err = s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Session{}, sess)
}

func TestOutbox_OrderAndLifecycle(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.Enqueue(ctx, OutboxEntry{ID: id, UserID: "u1", Kind: "add", Payload: []byte(`{"id":"` + id + `"}`)}))
	}
	require.NoError(t, s.Enqueue(ctx, OutboxEntry{ID: "other", UserID: "u2", Kind: "add", Payload: []byte(`{}`)}))

	pending, err := s.Pending(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{pending[0].ID, pending[1].ID, pending[2].ID})
	assert.JSONEq(t, `{"id":"m1"}`, string(pending[0].Payload))

	require.NoError(t, s.MarkFailed(ctx, "m1", errors.New("boom")))
	pending, err = s.Pending(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "boom", pending[0].LastError)

	require.NoError(t, s.MarkDone(ctx, "m1"))
	assert.ErrorIs(t, s.MarkDone(ctx, "m1"), ErrEntryNotFound)

	n, err := s.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	discarded, err := s.DiscardFor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), discarded)

	n, err = s.PendingCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
