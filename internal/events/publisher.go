package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by order id so every event of one order
// lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("events: failed to encode %s: %w", e.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(e.OrderID.String()),
			Value:   data,
			Time:    e.OccurredAt,
			Headers: []kafka.Header{{Key: "event-type", Value: []byte(e.Type)}},
		})
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("events: failed to write %d messages: %w", len(msgs), err)
	}
	log.Debug().Int("count", len(msgs)).Dur("elapsed", time.Since(start)).Msg("events: published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher stands in for Kafka when no brokers are configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, events ...Event) error {
	for _, e := range events {
		ev := log.Info().
			Str("type", string(e.Type)).
			Stringer("order_id", e.OrderID).
			Stringer("payment_id", e.PaymentID).
			Str("reference", e.Reference)
		if e.SellerID != nil {
			ev = ev.Stringer("seller_id", e.SellerID)
		}
		ev.Msg("events: event emitted")
	}
	return nil
}

func (LogPublisher) Close() error { return nil }
