package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals an absent entity (user, product, cart, order).
	// Surfaced to callers as a client error.
	ErrNotFound = errors.New("not found")

	// ErrEmptyCart rejects order placement from a cart with no lines.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrCartItemNotFound signals a cart operation on a product that has no
	// line in the cart.
	ErrCartItemNotFound = errors.New("item not in cart")

	// ErrInvalidTransition rejects a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateOrderNumber signals an order-number collision. Placement
	// regenerates the number and retries.
	ErrDuplicateOrderNumber = errors.New("duplicate order number")

	// ErrInternalInconsistency signals a bug, not a transient condition, e.g.
	// a payment callback referencing no known order. Logged and surfaced as a
	// server error.
	ErrInternalInconsistency = errors.New("internal inconsistency")
)

// InsufficientStockError names the product whose reservation failed.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested=%d, available=%d",
		e.ProductID, e.Requested, e.Available)
}

// IsInsufficientStock reports whether err is (or wraps) an
// InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}
