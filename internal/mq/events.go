package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leasehold/apiserver/config"
	"github.com/leasehold/apiserver/types"
)

const attrEventType = "event_type"

// RentalEvents publishes and consumes rental mutation events on one channel.
type RentalEvents struct {
	mq      *MQ
	channel string
}

func NewRentalEvents(m *MQ, channel string) *RentalEvents {
	return &RentalEvents{mq: m, channel: channel}
}

// PublishRentalEvent encodes event as JSON and publishes it.
func (e *RentalEvents) PublishRentalEvent(ctx context.Context, event types.RentalEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = e.mq.Publish(ctx, e.channel, data, map[string]string{attrEventType: string(event.Type)})
	return err
}

// Watch delivers decoded events to handle until ctx ends. Payloads that do
// not decode are acknowledged and dropped; redelivering them cannot help.
func (e *RentalEvents) Watch(ctx context.Context, handle func(context.Context, types.RentalEvent) error) error {
	return e.mq.Subscribe(ctx, e.channel, func(ctx context.Context, msg Message) error {
		var event types.RentalEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return nil
		}
		return handle(ctx, event)
	})
}

func (e *RentalEvents) Close() error {
	return e.mq.Close()
}

// Open connects to the backend named in cfg. It returns nil, nil when no
// backend is configured.
func Open(ctx context.Context, cfg config.MQConfig) (*MQ, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "":
		return nil, nil
	case "rabbitmq":
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return New(client), nil
	case "pubsub":
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return New(client), nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}
