package cart

import (
	"context"
	"testing"

	"storefront/internal/inventory"
	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T) (*Service, *store.Memory, *inventory.MemoryLedger) {
	t.Helper()

	mem := store.NewMemory()
	ledger := inventory.NewMemoryLedger()

	mem.AddUser(models.User{ID: 1, Email: "buyer@example.com"})

	discounted := decimal.RequireFromString("79.99")
	mem.AddProduct(models.Product{ID: 1, SKU: "WID-1", Name: "Widget", Price: decimal.RequireFromString("99.99")})
	mem.AddProduct(models.Product{ID: 2, SKU: "GAD-2", Name: "Gadget", Price: decimal.RequireFromString("129.99"), DiscountPrice: &discounted})
	ledger.SetStock(1, 10)
	ledger.SetStock(2, 5)

	return NewService(mem, ledger), mem, ledger
}

func TestAddItemSnapshotsEffectivePrice(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFixture(t)

	cart, err := svc.AddItem(ctx, 1, 1, 2)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.True(t, cart.Items[0].UnitPrice.Equal(decimal.RequireFromString("99.99")))

	// Discounted product locks in the discount price.
	cart, err = svc.AddItem(ctx, 1, 2, 1)
	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
	assert.True(t, cart.Items[1].UnitPrice.Equal(decimal.RequireFromString("79.99")))
}

func TestAddItemMergesQuantity(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFixture(t)

	_, err := svc.AddItem(ctx, 1, 1, 2)
	require.NoError(t, err)

	cart, err := svc.AddItem(ctx, 1, 1, 3)
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
}

func TestAddItemPriceLockedAtAddTime(t *testing.T) {
	ctx := context.Background()
	svc, mem, _ := newFixture(t)

	_, err := svc.AddItem(ctx, 1, 1, 1)
	require.NoError(t, err)

	// A later catalog price change must not touch the existing line.
	mem.AddProduct(models.Product{ID: 1, SKU: "WID-1", Name: "Widget", Price: decimal.RequireFromString("149.99")})

	cart, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.True(t, cart.Items[0].UnitPrice.Equal(decimal.RequireFromString("99.99")))
}

func TestAddItemInsufficientStockAdvisory(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFixture(t)

	_, err := svc.AddItem(ctx, 1, 2, 6)
	assert.True(t, models.IsInsufficientStock(err))

	// Merged quantity is checked too: 4 + 2 > 5.
	_, err = svc.AddItem(ctx, 1, 2, 4)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, 1, 2, 2)
	assert.True(t, models.IsInsufficientStock(err))
}

func TestAddItemUnknownProduct(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFixture(t)

	_, err := svc.AddItem(ctx, 1, 999, 1)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateItemQuantity(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFixture(t)

	_, err := svc.AddItem(ctx, 1, 1, 2)
	require.NoError(t, err)

	cart, err := svc.UpdateItemQuantity(ctx, 1, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, cart.Items[0].Quantity)

	// Zero or negative removes the line.
	cart, err = svc.UpdateItemQuantity(ctx, 1, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	_, err = svc.UpdateItemQuantity(ctx, 1, 1, 3)
	assert.ErrorIs(t, err, models.ErrCartItemNotFound)
}

func TestRemoveItemAndClear(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFixture(t)

	_, err := svc.AddItem(ctx, 1, 1, 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, 1, 2, 1)
	require.NoError(t, err)

	cart, err := svc.RemoveItem(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(2), cart.Items[0].ProductID)

	require.NoError(t, svc.Clear(ctx, 1))

	cart, err = svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}
