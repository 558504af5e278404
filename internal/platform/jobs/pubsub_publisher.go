package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/checkout/internal/platform/textutil"
	"github.com/hanko-field/checkout/internal/services"
)

// EventTypeOrderPlaced is the eventType attribute of order-placed messages.
const EventTypeOrderPlaced = "checkout.order_placed"

// PubSubOrderPublisher publishes order events to a Pub/Sub topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderPlaced sends event and waits for the server-assigned message id. Messages
// are ordered per order id when the topic has message ordering enabled.
func (p *PubSubOrderPublisher) PublishOrderPlaced(ctx context.Context, event services.OrderPlacedEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := textutil.CleanMap(map[string]string{
		"eventType":      EventTypeOrderPlaced,
		"quantity":       strconv.Itoa(event.Quantity),
		"eventId":        event.EventID,
		"orderId":        event.OrderID,
		"transactionId":  event.TransactionID,
		"flow":           string(event.Flow),
		"currency":       event.Currency,
		"idempotencyKey": event.IdempotencyKey,
	})

	msg := &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = strings.TrimSpace(event.OrderID)
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}
