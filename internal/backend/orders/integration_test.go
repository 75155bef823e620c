package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fjod/go_storefront/internal/backend/storage"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupPostgres(t *testing.T) *PostgresRepository {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("orders"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.RunMigrations(db))
	return NewPostgresRepository(db)
}

func TestPostgresRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	repo := setupPostgres(t)
	ctx := context.Background()

	rec := sampleRecord()
	rec.ID = uuid.NewString()
	rec.Order.PaymentMethod = domain.PaymentOnline
	rec.Order.PaymentInfo = &domain.PaymentInfo{GatewayOrderID: "order_1", PaymentID: "pay_1", Signature: "sig"}
	ev := OutboxEvent{
		ID:          uuid.NewString(),
		AggregateID: rec.ID,
		EventType:   EventOrderCreated,
		Payload:     []byte(fmt.Sprintf(`{"order_id":%q,"user_id":"u1"}`, rec.ID)),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, repo.CreateWithEvent(ctx, rec, ev))

	t.Run("duplicate idempotency key", func(t *testing.T) {
		dup := sampleRecord()
		dup.ID = uuid.NewString()
		err := repo.CreateWithEvent(ctx, dup, OutboxEvent{ID: uuid.NewString(), AggregateID: dup.ID, EventType: EventOrderCreated, Payload: []byte(`{}`), CreatedAt: time.Now()})
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("find by key", func(t *testing.T) {
		got, err := repo.FindByIdempotencyKey(ctx, "key-1")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.True(t, got.Order.Total.Equal(rec.Order.Total))
		require.NotNil(t, got.Order.PaymentInfo)
		assert.Equal(t, "pay_1", got.Order.PaymentInfo.PaymentID)
		assert.Equal(t, "red", got.Order.Items[0].Variant.Color())
	})

	t.Run("list by user", func(t *testing.T) {
		list, err := repo.ListByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("outbox", func(t *testing.T) {
		events, err := repo.UnprocessedEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 1, "rolled back duplicate must not leave an event")
		require.NoError(t, repo.MarkProcessed(ctx, events[0].ID))

		events, err = repo.UnprocessedEvents(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestPublisher_PublishesToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})
	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)

	writer := NewKafkaWriter(brokers, "order-events")
	events := &fakeEvents{pending: []OutboxEvent{
		{ID: "e1", AggregateID: "o1", EventType: EventOrderCreated, Payload: []byte(`{"order_id":"o1","user_id":"u1"}`)},
	}}
	p := NewPublisher(events, writer, time.Second, 10, zap.NewNop())
	defer p.Close()

	// the first write may race topic auto-creation
	require.Eventually(t, func() bool {
		return p.PublishPending(ctx) == 1
	}, 30*time.Second, time.Second)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  brokers,
		Topic:    "order-events",
		GroupID:  "orders-test",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	readCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)
	assert.Equal(t, "o1", string(msg.Key))
	assert.JSONEq(t, `{"order_id":"o1","user_id":"u1"}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, EventOrderCreated, string(msg.Headers[0].Value))
}
