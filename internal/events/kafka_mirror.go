package events

import (
	"context"
	"time"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var _ Mirror = (*KafkaMirror)(nil)

type KafkaMirror struct {
	w     *kafka.Writer
	topic string
	log   *zap.Logger
}

func NewKafkaMirror(brokers []string, topic string, log *zap.Logger) *KafkaMirror {
	return &KafkaMirror{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			// kafka-go waits up to a full second to fill a batch by default, and every
			// emit writes exactly one message
			BatchSize:    1,
			BatchTimeout: 5 * time.Millisecond,
			MaxAttempts:  2,
			WriteTimeout: time.Second,
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
		log:   log.With(zap.String("component", "kafka.mirror"), zap.String("topic", topic)),
	}
}

// Publish writes the event as JSON keyed by its subject, so events about the same
// post or user land on one partition in order.
func (m *KafkaMirror) Publish(ctx context.Context, evt models.Event) error {
	value, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(evt.SubjectRef),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(evt.Kind)},
			{Key: "event_id", Value: []byte(evt.ID)},
		},
	}
	if err := m.w.WriteMessages(ctx, msg); err != nil {
		return err
	}
	m.log.Debug("event mirrored", zap.String("kind", string(evt.Kind)), zap.Int("value_len", len(value)))
	return nil
}

func (m *KafkaMirror) Close() error { return m.w.Close() }
