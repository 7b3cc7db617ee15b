package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Sink receives every relayed payload in addition to the webhooks.
type Sink interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
	Close()
}

// AMQPSink publishes payloads to a durable topic exchange. The connection is opened
// lazily and re-dialed after it drops.
type AMQPSink struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAMQPSink(url, exchange string) *AMQPSink {
	return &AMQPSink{url: url, exchange: exchange}
}

func (s *AMQPSink) ensureChannel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil && !s.conn.IsClosed() && s.channel != nil && !s.channel.IsClosed() {
		return s.channel, nil
	}

	conn, err := amqp.DialConfig(s.url, amqp.Config{Properties: amqp.Table{
		"connection_name": "wabridge",
	}})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("exchange declare: %w", err)
	}

	s.conn = conn
	s.channel = ch
	return ch, nil
}

func (s *AMQPSink) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ch, err := s.ensureChannel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, s.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
	})
}

func (s *AMQPSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
