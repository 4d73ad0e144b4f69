package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes events to a topic keyed by run ID.
type Kafka struct {
	w messageWriter
}

// NewKafka returns a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic required")
	}
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}}, nil
}

// Publish implements Publisher.
func (k *Kafka) Publish(ctx context.Context, event RunCompleted) error {
	body, err := event.Encode()
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(event.RunID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EventRunCompleted)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close implements Publisher.
func (k *Kafka) Close() error { return k.w.Close() }
