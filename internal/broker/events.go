package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Sink is where published events go. Producer implements it; NopSink drops
// events when Kafka is disabled (memory driver, tests).
type Sink interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) PublishEvent(ctx context.Context, key string, event interface{}) error {
	return nil
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	sink Sink
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(sink Sink) *EventPublisher {
	return &EventPublisher{sink: sink}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderPlaced publishes an OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.sink.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderCancelled publishes an OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return ep.sink.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentRequested publishes a PaymentRequested event
func (ep *EventPublisher) PublishPaymentRequested(ctx context.Context, event *models.PaymentRequestedEvent) error {
	return ep.sink.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentSucceeded publishes a PaymentSucceeded event
func (ep *EventPublisher) PublishPaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error {
	return ep.sink.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentFailed publishes a PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return ep.sink.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// EventHandler routes consumed events to registered handlers.
type EventHandler struct {
	onPaymentRequested func(context.Context, *models.PaymentRequestedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentRequested registers a handler for PaymentRequested events
func (eh *EventHandler) OnPaymentRequested(handler func(context.Context, *models.PaymentRequestedEvent) error) {
	eh.onPaymentRequested = handler
}

// HandleMessage routes messages to the appropriate handler
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypePaymentRequested:
		if eh.onPaymentRequested != nil {
			var event models.PaymentRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentRequested event: %w", err)
			}
			return eh.onPaymentRequested(ctx, &event)
		}

	default:
		util.GetLogger().Debug("Unhandled event type",
			zap.String("event_type", baseEvent.EventType),
			zap.String("event_id", baseEvent.EventID))
	}

	return nil
}
