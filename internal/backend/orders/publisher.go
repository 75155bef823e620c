package orders

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type EventStore interface {
	UnprocessedEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkProcessed(ctx context.Context, id string) error
}

// Publisher relays outbox events to Kafka. An event is marked processed only
// after the broker accepted it, so delivery is at least once.
type Publisher struct {
	events    EventStore
	writer    MessageWriter
	log       *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewPublisher(events EventStore, writer MessageWriter, interval time.Duration, batchSize int, log *zap.Logger) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Publisher{
		events:    events,
		writer:    writer,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.PublishPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// PublishPending sends one batch and returns how many events went out.
func (p *Publisher) PublishPending(ctx context.Context) int {
	events, err := p.events.UnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		p.log.Error("failed to fetch outbox events", zap.Error(err))
		return 0
	}

	sent := 0
	for _, ev := range events {
		msg := kafka.Message{
			// keyed by order so one order's events stay in one partition
			Key:   []byte(ev.AggregateID),
			Value: ev.Payload,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.EventType)},
			},
		}
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			p.log.Warn("failed to publish outbox event", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		if err := p.events.MarkProcessed(ctx, ev.ID); err != nil {
			p.log.Warn("failed to mark outbox event processed", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func (p *Publisher) Close() {
	if err := p.writer.Close(); err != nil {
		p.log.Warn("error closing kafka writer", zap.Error(err))
	}
}
