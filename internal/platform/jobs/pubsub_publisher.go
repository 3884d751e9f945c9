package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/luis12duboqwe/inventario-sub008/internal/services"
)

// PubSubSalePublisher publishes completed sales to a Pub/Sub topic so
// downstream systems (reporting, loyalty, stock sync) hear about them without
// polling the sales backend.
type PubSubSalePublisher struct {
	topic      *pubsub.Topic
	registerID string
	marshal    func(any) ([]byte, error)
}

// NewPubSubSalePublisher constructs a Pub/Sub backed sale event publisher.
func NewPubSubSalePublisher(topic *pubsub.Topic, registerID string) (*PubSubSalePublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub sale publisher: topic is required")
	}
	return &PubSubSalePublisher{
		topic:      topic,
		registerID: strings.TrimSpace(registerID),
		marshal:    json.Marshal,
	}, nil
}

// PublishSaleCompleted implements services.EventPublisher.
func (p *PubSubSalePublisher) PublishSaleCompleted(ctx context.Context, event services.SaleCompletedEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub sale publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sale event: %w", err)
	}

	attrs := map[string]string{"event": "sale.completed"}
	setAttr(attrs, "saleNumber", event.SaleNumber)
	setAttr(attrs, "idempotencyKey", event.IdempotencyKey)
	setAttr(attrs, "registerId", p.registerID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish sale event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
