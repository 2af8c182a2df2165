// Package jobs delivers order lifecycle events to downstream consumers (customer email, fulfilment).
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/fixparts/api/internal/services"
)

// OrderEventMessage is the JSON payload published for every order transition.
type OrderEventMessage struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber"`
	CustomerID     string    `json:"customerId,omitempty"`
	Email          string    `json:"email"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	CurrentStatus  string    `json:"currentStatus"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func newOrderEventMessage(event services.OrderEvent) OrderEventMessage {
	return OrderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		CustomerID:     event.CustomerID,
		Email:          event.Email,
		PreviousStatus: string(event.PreviousStatus),
		CurrentStatus:  string(event.CurrentStatus),
		Amount:         event.Amount.StringFixed(2),
		Currency:       event.Currency,
		OccurredAt:     event.OccurredAt.UTC(),
	}
}

// PubSubOrderNotifier publishes order events to a Pub/Sub topic. Messages for one order share an
// ordering key so subscribers see transitions in sequence when ordering is enabled on the topic.
type PubSubOrderNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderNotifier = (*PubSubOrderNotifier)(nil)

// NewPubSubOrderNotifier constructs a Pub/Sub backed notifier.
func NewPubSubOrderNotifier(topic *pubsub.Topic) (*PubSubOrderNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub order notifier: topic is required")
	}
	return &PubSubOrderNotifier{topic: topic, marshal: json.Marshal}, nil
}

// NotifyOrder publishes the event and waits for the server acknowledgement.
func (p *PubSubOrderNotifier) NotifyOrder(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order notifier: not initialised")
	}
	data, err := p.marshal(newOrderEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string, 3)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", string(event.CurrentStatus))

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = event.OrderID
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// LogOrderNotifier writes order events to the structured log. It stands in for Pub/Sub when no
// project is configured.
type LogOrderNotifier struct {
	logger *zap.Logger
}

var _ services.OrderNotifier = (*LogOrderNotifier)(nil)

// NewLogOrderNotifier constructs a notifier writing to logger.
func NewLogOrderNotifier(logger *zap.Logger) *LogOrderNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogOrderNotifier{logger: logger}
}

// NotifyOrder logs the event.
func (n *LogOrderNotifier) NotifyOrder(_ context.Context, event services.OrderEvent) error {
	msg := newOrderEventMessage(event)
	n.logger.Info("order event",
		zap.String("event", msg.Type),
		zap.String("order_id", msg.OrderID),
		zap.String("order_number", msg.OrderNumber),
		zap.String("previous_status", msg.PreviousStatus),
		zap.String("current_status", msg.CurrentStatus),
		zap.String("amount", msg.Amount),
		zap.String("currency", msg.Currency),
	)
	return nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
