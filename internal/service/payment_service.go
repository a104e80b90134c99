package service

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/broker"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// PaymentService bridges orders and the (mocked) payment gateway: it issues
// payment intents and translates asynchronous gateway outcomes into order
// state transitions.
type PaymentService struct {
	store   store.Store
	gateway *gateway.Stub
	events  *broker.EventPublisher
	logger  *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(st store.Store, gw *gateway.Stub, events *broker.EventPublisher) *PaymentService {
	return &PaymentService{
		store:   st,
		gateway: gw,
		events:  events,
		logger:  util.GetLogger(),
	}
}

// RequestPayment asks the gateway for a payment intent keyed to the order's
// total and stores the reference on the order. Requesting an intent does not
// advance order or payment status; re-requesting one is a status no-op.
func (ps *PaymentService) RequestPayment(ctx context.Context, orderID int64) (*gateway.Intent, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RequestPayment")
	defer span.End()

	order, err := ps.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	intent, err := ps.gateway.CreateIntent(ctx, order.ID, order.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	if err := ps.store.SetPaymentIntent(ctx, order.ID, intent.ID); err != nil {
		return nil, fmt.Errorf("failed to store payment intent: %w", err)
	}

	util.PaymentIntentsTotal.Inc()
	ps.logger.Info("Payment intent created",
		zap.Int64("order_id", order.ID),
		zap.String("payment_intent_id", intent.ID),
		zap.Int64("amount_minor", intent.Amount))

	event := &models.PaymentRequestedEvent{
		BaseEvent:       newBaseEvent(models.EventTypePaymentRequested),
		OrderID:         order.ID,
		PaymentIntentID: intent.ID,
		AmountMinor:     intent.Amount,
	}
	if err := ps.events.PublishPaymentRequested(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentRequested event", zap.Error(err))
	}

	return intent, nil
}

// HandlePaymentResult applies a gateway outcome to the order owning the
// payment reference. The transition is idempotent: a repeated terminal
// outcome is a no-op, not an error. An unknown reference indicates a
// gateway/store desynchronization bug and is surfaced as an internal
// inconsistency, not retried.
func (ps *PaymentService) HandlePaymentResult(ctx context.Context, intentID string, succeeded bool) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandlePaymentResult")
	defer span.End()

	event := models.PaymentEventFailed
	if succeeded {
		event = models.PaymentEventSucceeded
	}

	order, changed, err := ps.store.ApplyPaymentEvent(ctx, intentID, event)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			util.PaymentCallbacksUnmatched.Inc()
			ps.logger.Error("Payment callback references no known order",
				zap.String("payment_intent_id", intentID))
			return nil, fmt.Errorf("payment intent %s: %w", intentID, models.ErrInternalInconsistency)
		}
		return nil, err
	}

	if !changed {
		ps.logger.Info("Duplicate payment callback ignored",
			zap.String("payment_intent_id", intentID),
			zap.Int64("order_id", order.ID))
		return order, nil
	}

	if succeeded {
		util.PaymentSucceededTotal.Inc()
		ps.logger.Info("Payment succeeded",
			zap.Int64("order_id", order.ID),
			zap.String("payment_intent_id", intentID))

		event := &models.PaymentSucceededEvent{
			BaseEvent:       newBaseEvent(models.EventTypePaymentSucceeded),
			OrderID:         order.ID,
			PaymentIntentID: intentID,
		}
		if err := ps.events.PublishPaymentSucceeded(ctx, event); err != nil {
			ps.logger.Error("Failed to publish PaymentSucceeded event", zap.Error(err))
		}
	} else {
		util.PaymentFailedTotal.Inc()
		ps.logger.Warn("Payment failed",
			zap.Int64("order_id", order.ID),
			zap.String("payment_intent_id", intentID))

		event := &models.PaymentFailedEvent{
			BaseEvent:       newBaseEvent(models.EventTypePaymentFailed),
			OrderID:         order.ID,
			PaymentIntentID: intentID,
			Reason:          "gateway_declined",
		}
		if err := ps.events.PublishPaymentFailed(ctx, event); err != nil {
			ps.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
		}
	}

	return order, nil
}
