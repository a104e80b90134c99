package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/release_stock.lua
var releaseStockScript string

// Results returned by the stock scripts.
const (
	scriptOK            = 1
	reserveInsufficient = 0
	scriptUnknownKey    = -1
)

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
}

// ErrStockKeyMissing is returned when Redis has no counter for a product,
// e.g. before the boot-time sync has run.
var ErrStockKeyMissing = fmt.Errorf("stock key missing in redis")

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		releaseScript: redis.NewScript(releaseStockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// ReserveStock atomically checks and decrements available stock using a Lua
// script. Returns true when the reservation succeeded, false on insufficient
// stock.
func (c *Client) ReserveStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	result, err := c.reserveScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity).Result()
	if err != nil {
		return false, fmt.Errorf("reserve stock script failed: %w", err)
	}

	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type %T", result)
	}

	switch code {
	case scriptOK:
		return true, nil
	case reserveInsufficient:
		return false, nil
	case scriptUnknownKey:
		return false, ErrStockKeyMissing
	default:
		return false, fmt.Errorf("unexpected script result %d", code)
	}
}

// ReleaseStock atomically increments available stock (compensation). Returns
// ErrStockKeyMissing when Redis holds no counter for the product, so callers
// never inflate a counter that was never decremented.
func (c *Client) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	result, err := c.releaseScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity).Result()
	if err != nil {
		return fmt.Errorf("release stock script failed: %w", err)
	}
	if code, ok := result.(int64); ok && code == scriptUnknownKey {
		return ErrStockKeyMissing
	}
	return nil
}

// InvalidateStock drops the counter for a product. Used when a Redis failure
// leaves the counter's value in doubt; reservations fall through to the
// backing ledger until the next sync.
func (c *Client) InvalidateStock(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, stockKey(productID)).Err()
}

// InitStock initializes the available counter for a product
func (c *Client) InitStock(ctx context.Context, productID int64, available int) error {
	return c.rdb.Set(ctx, stockKey(productID), available, 0).Err()
}

// GetStock retrieves the current available counter
func (c *Client) GetStock(ctx context.Context, productID int64) (int, error) {
	val, err := c.rdb.Get(ctx, stockKey(productID)).Result()
	if err == redis.Nil {
		return 0, ErrStockKeyMissing
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}
