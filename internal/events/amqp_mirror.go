package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ Mirror = (*AMQPMirror)(nil)

// AMQPMirror publishes events to a durable topic exchange with routing keys like "social.like"
type AMQPMirror struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *zap.Logger
}

func NewAMQPMirror(url, exchange string, log *zap.Logger) (*AMQPMirror, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPMirror{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		log:      log.With(zap.String("component", "amqp.mirror"), zap.String("exchange", exchange)),
	}, nil
}

func RoutingKey(kind models.EventKind) string {
	return "social." + strings.ToLower(string(kind))
}

func (m *AMQPMirror) Publish(ctx context.Context, evt models.Event) error {
	body, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return m.channel.PublishWithContext(
		ctx,
		m.exchange,
		RoutingKey(evt.Kind),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: evt.ID,
			Body:          body,
			Timestamp:     evt.OccurredAt,
		},
	)
}

func (m *AMQPMirror) Close() error {
	if m.channel != nil {
		_ = m.channel.Close()
	}
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
