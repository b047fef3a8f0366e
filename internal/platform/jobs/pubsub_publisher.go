package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/naturalily/shop-api/internal/services"
)

// PubSubOrderPublisher announces finalized orders on a Pub/Sub topic for fulfilment and
// notification consumers.
type PubSubOrderPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	// Messages for one user stay ordered so consumers see orders in placement order.
	topic.EnableMessageOrdering = true
	return &PubSubOrderPublisher{topic: topic}, nil
}

// PublishOrderEvent blocks until the server acknowledges the message.
func (p *PubSubOrderPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: event.UserID,
		Attributes: map[string]string{
			"eventType": event.Type,
			"orderId":   event.OrderID,
			"source":    event.Source,
			"total":     strconv.FormatInt(event.Total, 10),
			"currency":  event.Currency,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		p.topic.ResumePublish(event.UserID)
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}
