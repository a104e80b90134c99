package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced      = "ORDER_PLACED"
	EventTypeOrderCancelled   = "ORDER_CANCELLED"
	EventTypePaymentRequested = "PAYMENT_REQUESTED"
	EventTypePaymentSucceeded = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published when an order is placed from a cart
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      int64           `json:"user_id"`
	Total       decimal.Decimal `json:"total"`
	Items       []OrderLineData `json:"items"`
}

// OrderCancelledEvent published when an order is cancelled and its stock
// released
type OrderCancelledEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
}

// PaymentRequestedEvent published when a payment intent is issued for an
// order; consumed by the payment worker that simulates the gateway
type PaymentRequestedEvent struct {
	BaseEvent
	OrderID         int64  `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	AmountMinor     int64  `json:"amount_minor"`
}

// PaymentSucceededEvent published after a successful payment callback
type PaymentSucceededEvent struct {
	BaseEvent
	OrderID         int64  `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
}

// PaymentFailedEvent published after a failed payment callback
type PaymentFailedEvent struct {
	BaseEvent
	OrderID         int64  `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Reason          string `json:"reason"`
}

// OrderLineData represents line data in events
type OrderLineData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
