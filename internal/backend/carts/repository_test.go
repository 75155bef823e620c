package carts

import (
	"context"
	"testing"

	"github.com/fjod/go_storefront/internal/backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestDB(t *testing.T) *MongoRepository {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := storage.ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo := NewMongoRepository(db)
	require.NoError(t, repo.CreateIndexes(ctx))
	return repo
}

func TestMongoRepository(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrCartNotFound)

	cart := &Cart{
		UserID:  "u1",
		Version: 1,
		Items:   []Item{{ProductID: "p1", Variant: &Variant{Color: "red"}, Quantity: 2}, {ProductID: "p2", Quantity: 1}},
		Applied: []string{"m1"},
	}
	require.NoError(t, repo.Save(ctx, cart, 0))
	assert.ErrorIs(t, repo.Save(ctx, &Cart{UserID: "u1", Version: 1}, 0), ErrVersionConflict)

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "red", got.Items[0].Identity().Color())
	assert.True(t, got.Items[1].Identity().IsNone())
	assert.Equal(t, []string{"m1"}, got.Applied)

	next := got.clone()
	next.Version = 2
	next.Items = next.Items[:1]
	require.NoError(t, repo.Save(ctx, next, 1))

	stale := got.clone()
	stale.Version = 2
	assert.ErrorIs(t, repo.Save(ctx, stale, 1), ErrVersionConflict)

	got, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Len(t, got.Items, 1)

	require.NoError(t, repo.Delete(ctx, "u1"))
	assert.ErrorIs(t, repo.Delete(ctx, "u1"), ErrCartNotFound)
}
