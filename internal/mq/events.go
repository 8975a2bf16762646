package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/nexocrm/authsvc/types"
)

const (
	attrEventType = "event_type"
	attrUserID    = "user_id"
)

// UserEvents publishes and consumes user lifecycle events on one channel.
type UserEvents struct {
	broker  Broker
	channel string
}

func NewUserEvents(broker Broker, channel string) *UserEvents {
	return &UserEvents{broker: broker, channel: channel}
}

// PublishUserEvent encodes event as JSON. The event type and user id are
// also set as message attributes so consumers can filter without decoding.
func (e *UserEvents) PublishUserEvent(ctx context.Context, event types.UserEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode user event: %w", err)
	}
	attrs := map[string]string{
		attrEventType: string(event.Type),
		attrUserID:    strconv.Itoa(event.UserID),
	}
	if _, err := e.broker.Publish(ctx, e.channel, data, attrs); err != nil {
		return err
	}
	return nil
}

// Tail calls fn for every user event until ctx is done. Undecodable
// deliveries are passed to fn as an error and acknowledged.
func (e *UserEvents) Tail(ctx context.Context, fn func(event types.UserEvent, err error)) error {
	return e.broker.Subscribe(ctx, e.channel, func(_ context.Context, delivery Delivery) error {
		event, err := DecodeUserEvent(delivery.Data)
		fn(event, err)
		return nil
	})
}

// DecodeUserEvent parses a published user event.
func DecodeUserEvent(data []byte) (types.UserEvent, error) {
	var event types.UserEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return types.UserEvent{}, fmt.Errorf("decode user event: %w", err)
	}
	if event.Type == "" || event.UserID < 1 {
		return types.UserEvent{}, errors.New("decode user event: missing type or user id")
	}
	return event, nil
}

// Close closes the underlying broker.
func (e *UserEvents) Close() error {
	return e.broker.Close()
}
