package inventory

import (
	"context"
	"errors"

	"storefront/internal/models"
	"storefront/internal/redisclient"

	"go.uber.org/zap"
)

// StockCounter is the Redis-side counter surface the fast path needs.
// *redisclient.Client implements it.
type StockCounter interface {
	ReserveStock(ctx context.Context, productID int64, quantity int) (bool, error)
	ReleaseStock(ctx context.Context, productID int64, quantity int) error
	GetStock(ctx context.Context, productID int64) (int, error)
	InvalidateStock(ctx context.Context, productID int64) error
}

// RedisLedger serves reservations from Redis counters (Lua check-and-
// decrement) and falls back to a backing ledger when Redis is unavailable
// or has no counter for the product.
type RedisLedger struct {
	counter  StockCounter
	fallback Ledger
	logger   *zap.Logger
}

// NewRedisLedger wires the Redis fast path in front of a backing ledger.
func NewRedisLedger(counter StockCounter, fallback Ledger, logger *zap.Logger) *RedisLedger {
	return &RedisLedger{
		counter:  counter,
		fallback: fallback,
		logger:   logger,
	}
}

func (l *RedisLedger) Reserve(ctx context.Context, productID int64, quantity int) error {
	ok, err := l.counter.ReserveStock(ctx, productID, quantity)
	if err != nil {
		if !errors.Is(err, redisclient.ErrStockKeyMissing) {
			l.logger.Warn("redis reservation failed, falling back",
				zap.Int64("product_id", productID),
				zap.Error(err))
			// The counter's value is now in doubt; drop it so releases and
			// later reservations go to the backing ledger until the next
			// sync, instead of drifting a counter this grant never touched.
			if invErr := l.counter.InvalidateStock(ctx, productID); invErr != nil {
				l.logger.Error("failed to invalidate stock counter",
					zap.Int64("product_id", productID),
					zap.Error(invErr))
			}
		}
		return l.fallback.Reserve(ctx, productID, quantity)
	}

	if !ok {
		available, _ := l.counter.GetStock(ctx, productID)
		return &models.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: available,
		}
	}

	// Mirror the decrement into the backing ledger so both views agree.
	if err := l.fallback.Reserve(ctx, productID, quantity); err != nil {
		// Backing store disagreed with Redis; undo the Redis decrement and
		// report the authoritative failure.
		if relErr := l.counter.ReleaseStock(ctx, productID, quantity); relErr != nil {
			l.logger.Error("failed to undo redis reservation",
				zap.Int64("product_id", productID),
				zap.Error(relErr))
		}
		return err
	}

	return nil
}

func (l *RedisLedger) Release(ctx context.Context, productID int64, quantity int) error {
	// A missing counter means Redis never held this reservation; only real
	// failures are worth logging.
	if err := l.counter.ReleaseStock(ctx, productID, quantity); err != nil &&
		!errors.Is(err, redisclient.ErrStockKeyMissing) {
		l.logger.Error("failed to release stock in redis",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
	return l.fallback.Release(ctx, productID, quantity)
}

func (l *RedisLedger) Available(ctx context.Context, productID int64) (int, error) {
	available, err := l.counter.GetStock(ctx, productID)
	if err != nil {
		return l.fallback.Available(ctx, productID)
	}
	return available, nil
}
