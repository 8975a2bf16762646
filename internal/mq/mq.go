package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexocrm/authsvc/config"
)

// ErrNotConfigured is returned by Open when MQ_BACKEND is empty.
var ErrNotConfigured = errors.New("message broker not configured")

// Delivery is a broker-agnostic message handed to subscribers.
type Delivery struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	PublishedAt time.Time
}

// Handler processes a delivery. A non-nil error asks the broker to redeliver.
type Handler func(ctx context.Context, delivery Delivery) error

// Broker is implemented by the RabbitMQ and Pub/Sub clients.
type Broker interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Open connects to the broker selected by cfg.Backend.
func Open(ctx context.Context, cfg config.MQConfig) (Broker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "":
		return nil, ErrNotConfigured
	case "rabbitmq":
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "pubsub":
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported mq backend %q", cfg.Backend)
	}
}
