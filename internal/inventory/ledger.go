// Package inventory owns per-product available quantity behind an atomic
// check-and-decrement interface.
package inventory

import (
	"context"
	"sync"

	"storefront/internal/models"
)

// Ledger is the authoritative stock interface. Reserve atomically checks and
// decrements; it fails without mutation when stock is insufficient. Release
// increments with no upper bound (restock on cancellation or compensation).
type Ledger interface {
	Reserve(ctx context.Context, productID int64, quantity int) error
	Release(ctx context.Context, productID int64, quantity int) error
	Available(ctx context.Context, productID int64) (int, error)
}

// MemoryLedger keeps one counter per product, each behind its own mutex.
// Concurrent reservations of disjoint products never contend; reservations
// of the same product serialize around the check-and-decrement only. There
// is no global lock across the inventory set.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[int64]*stockEntry
}

type stockEntry struct {
	mu        sync.Mutex
	available int
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[int64]*stockEntry)}
}

// SetStock initializes or replaces the available quantity for a product.
func (l *MemoryLedger) SetStock(productID int64, quantity int) {
	e := l.entry(productID)
	e.mu.Lock()
	e.available = quantity
	e.mu.Unlock()
}

func (l *MemoryLedger) entry(productID int64) *stockEntry {
	l.mu.RLock()
	e, ok := l.entries[productID]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[productID]; ok {
		return e
	}
	e = &stockEntry{}
	l.entries[productID] = e
	return e
}

// Reserve atomically checks available >= quantity and decrements. On
// insufficient stock it performs no mutation and returns
// InsufficientStockError naming the product.
func (l *MemoryLedger) Reserve(ctx context.Context, productID int64, quantity int) error {
	_ = ctx

	e := l.entry(productID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.available < quantity {
		return &models.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: e.available,
		}
	}

	e.available -= quantity
	return nil
}

// Release increments available stock. Used for cancellation and for rolling
// back partially granted reservations.
func (l *MemoryLedger) Release(ctx context.Context, productID int64, quantity int) error {
	_ = ctx

	e := l.entry(productID)
	e.mu.Lock()
	e.available += quantity
	e.mu.Unlock()
	return nil
}

// Available returns the current available quantity. Advisory only; the
// authoritative check happens inside Reserve.
func (l *MemoryLedger) Available(ctx context.Context, productID int64) (int, error) {
	_ = ctx

	e := l.entry(productID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available, nil
}
