package carts

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const EventOrderCreated = "order.created"

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Clearer interface {
	Clear(ctx context.Context, userID, mutationID string) error
}

// Consumer empties a user's server cart once their order is created.
type Consumer struct {
	reader MessageReader
	carts  Clearer
	log    *zap.Logger
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewConsumer(reader MessageReader, carts Clearer, log *zap.Logger) *Consumer {
	return &Consumer{reader: reader, carts: carts, log: log}
}

type orderEvent struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.consumeOne(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn("error closing kafka reader", zap.Error(err))
	}
}

func (c *Consumer) consumeOne(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			c.log.Error("error reading message", zap.Error(err))
		}
		return
	}

	if t := eventType(m); t != "" && t != EventOrderCreated {
		return
	}

	var ev orderEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		c.log.Error("error parsing order event", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}
	if ev.UserID == "" {
		c.log.Error("order event without user_id", zap.String("order_id", ev.OrderID))
		return
	}

	// the order id doubles as mutation id, so a redelivered event is a no-op
	if err := c.carts.Clear(ctx, ev.UserID, "order:"+ev.OrderID); err != nil {
		c.log.Error("failed to clear cart after order",
			zap.String("user_id", ev.UserID), zap.String("order_id", ev.OrderID), zap.Error(err))
		return
	}
	c.log.Info("cart cleared after order", zap.String("user_id", ev.UserID), zap.String("order_id", ev.OrderID))
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
