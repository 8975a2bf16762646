package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexocrm/authsvc/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQClient publishes to and consumes from named queues on the default
// exchange. One AMQP channel is shared, so publishes are serialized.
type RabbitMQClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     config.RabbitMQConfig

	mu       sync.Mutex
	declared map[string]struct{}
}

// NewRabbitMQClient dials cfg.URL and opens a channel.
func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("set rabbitmq prefetch: %w", err)
		}
	}

	return &RabbitMQClient{
		conn:     conn,
		channel:  ch,
		cfg:      cfg,
		declared: make(map[string]struct{}),
	}, nil
}

// Publish sends a JSON message to the queue named channel and returns its id.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("rabbitmq channel is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.declareQueue(channel); err != nil {
		return "", err
	}

	headers := amqp.Table{}
	for key, value := range attrs {
		headers[key] = value
	}

	deliveryMode := amqp.Transient
	if r.cfg.QueueDurable {
		deliveryMode = amqp.Persistent
	}

	messageID := uuid.NewString()
	err := r.channel.PublishWithContext(ctx, "", channel, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: deliveryMode,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         data,
	})
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", channel, err)
	}
	return messageID, nil
}

// Subscribe consumes the queue named channel until ctx is done. Handler
// errors requeue the delivery.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("rabbitmq channel is required")
	}

	r.mu.Lock()
	err := r.declareQueue(channel)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	consumerTag := "authsvc-" + uuid.NewString()
	deliveries, err := r.channel.Consume(channel, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", channel, err)
	}
	defer func() {
		_ = r.channel.Cancel(consumerTag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			delivery := Delivery{
				ID:          msg.MessageId,
				Data:        msg.Body,
				Attributes:  headersToAttributes(msg.Headers),
				PublishedAt: msg.Timestamp,
			}
			if err := handler(ctx, delivery); err != nil {
				_ = msg.Nack(false, true)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

// Close closes the channel and then the connection.
func (r *RabbitMQClient) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// declareQueue declares name once per client. Callers hold r.mu.
func (r *RabbitMQClient) declareQueue(name string) error {
	if _, ok := r.declared[name]; ok {
		return nil
	}
	_, err := r.channel.QueueDeclare(
		name,
		r.cfg.QueueDurable,
		r.cfg.QueueAutoDelete,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	r.declared[name] = struct{}{}
	return nil
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}
