package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"storefront/internal/broker"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// PaymentWorker plays the gateway's asynchronous side: it consumes
// PaymentRequested events, simulates the gateway decision after a short
// delay, and feeds the outcome through the same callback path the webhook
// uses. The callback's idempotent transition absorbs a race with a webhook
// delivering the same outcome.
type PaymentWorker struct {
	consumer       *broker.Consumer
	eventHandler   *broker.EventHandler
	paymentService *service.PaymentService
	gateway        *gateway.Stub
	logger         *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, paymentService *service.PaymentService, gw *gateway.Stub) *PaymentWorker {
	w := &PaymentWorker{
		consumer:       consumer,
		paymentService: paymentService,
		gateway:        gw,
		logger:         util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentRequested(w.handlePaymentRequested)
	w.eventHandler = eventHandler
	return w
}

// Start starts the worker
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}

func (w *PaymentWorker) handlePaymentRequested(ctx context.Context, event *models.PaymentRequestedEvent) error {
	w.logger.Info("Simulating gateway decision",
		zap.Int64("order_id", event.OrderID),
		zap.String("payment_intent_id", event.PaymentIntentID))

	// Mimic gateway processing time.
	time.Sleep(time.Duration(100+rand.Intn(400)) * time.Millisecond)

	succeeded := w.gateway.SimulateOutcome()

	if _, err := w.paymentService.HandlePaymentResult(ctx, event.PaymentIntentID, succeeded); err != nil {
		// An unmatched reference is a bug to surface, not a message to
		// redeliver forever.
		if errors.Is(err, models.ErrInternalInconsistency) {
			w.logger.Error("Dropping callback for unknown payment intent",
				zap.String("payment_intent_id", event.PaymentIntentID),
				zap.Error(err))
			return nil
		}
		return err
	}

	return nil
}
