package models

// PaymentEvent is an outcome reported by the payment gateway.
type PaymentEvent string

const (
	PaymentEventSucceeded PaymentEvent = "PAYMENT_SUCCEEDED"
	PaymentEventFailed    PaymentEvent = "PAYMENT_FAILED"
	PaymentEventRefunded  PaymentEvent = "PAYMENT_REFUNDED"
)

var validOrderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending:    {OrderStatusProcessing: true, OrderStatusCancelled: true},
	OrderStatusProcessing: {OrderStatusShipped: true, OrderStatusCancelled: true},
	OrderStatusShipped:    {OrderStatusDelivered: true},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// CanTransitionOrder reports whether the order lifecycle allows moving from
// one status to another.
func CanTransitionOrder(from, to OrderStatus) bool {
	return validOrderTransitions[from][to]
}

// ApplyPaymentEvent is the pure two-axis transition function. It returns the
// statuses after applying a gateway event, plus whether anything changed.
//
// Payment reaching PAID forces the order from PENDING to PROCESSING, never
// the reverse. Re-applying a terminal outcome is a no-op, which makes the
// asynchronous callback idempotent regardless of delivery count or ordering.
func ApplyPaymentEvent(os OrderStatus, ps PaymentStatus, event PaymentEvent) (OrderStatus, PaymentStatus, bool) {
	switch event {
	case PaymentEventSucceeded:
		if ps != PaymentStatusPending {
			return os, ps, false
		}
		ps = PaymentStatusPaid
		if os == OrderStatusPending {
			os = OrderStatusProcessing
		}
		return os, ps, true

	case PaymentEventFailed:
		if ps != PaymentStatusPending {
			return os, ps, false
		}
		return os, PaymentStatusFailed, true

	case PaymentEventRefunded:
		if ps != PaymentStatusPaid {
			return os, ps, false
		}
		return os, PaymentStatusRefunded, true
	}

	return os, ps, false
}
