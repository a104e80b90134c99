package service

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sync"
	"testing"

	"storefront/internal/broker"
	"storefront/internal/gateway"
	"storefront/internal/inventory"
	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddress = models.ShippingAddress{
	Street:  "1 Main St",
	City:    "Springfield",
	State:   "IL",
	ZipCode: "62701",
	Country: "US",
}

type fixture struct {
	store    *store.Memory
	ledger   *inventory.MemoryLedger
	orders   *OrderService
	payments *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := store.NewMemory()
	ledger := inventory.NewMemoryLedger()
	events := broker.NewEventPublisher(broker.NopSink{})

	mem.AddUser(models.User{ID: 1, Email: "buyer@example.com"})
	mem.AddProduct(models.Product{ID: 1, SKU: "WID-1", Name: "Widget", Price: decimal.RequireFromString("100.00")})
	mem.AddProduct(models.Product{ID: 2, SKU: "GAD-2", Name: "Gadget", Price: decimal.RequireFromString("50.00")})
	ledger.SetStock(1, 10)
	ledger.SetStock(2, 5)

	return &fixture{
		store:    mem,
		ledger:   ledger,
		orders:   NewOrderService(mem, ledger, events, 10),
		payments: NewPaymentService(mem, gateway.NewStub(1.0), events),
	}
}

func (f *fixture) fillCart(t *testing.T, userID int64, items ...models.CartItem) {
	t.Helper()
	require.NoError(t, f.store.SaveCart(context.Background(), &models.Cart{
		UserID: userID,
		Items:  items,
	}))
}

func (f *fixture) available(t *testing.T, productID int64) int {
	t.Helper()
	available, err := f.ledger.Available(context.Background(), productID)
	require.NoError(t, err)
	return available
}

func TestPlaceOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, 1,
		models.CartItem{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("100.00")},
		models.CartItem{ProductID: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("50.00")},
	)

	order, err := f.orders.PlaceOrder(ctx, 1, testAddress)
	require.NoError(t, err)

	assert.True(t, order.Subtotal.Equal(decimal.RequireFromString("250.00")), "subtotal = %s", order.Subtotal)
	assert.True(t, order.Tax.Equal(decimal.RequireFromString("25.00")), "tax = %s", order.Tax)
	assert.True(t, order.ShippingCost.Equal(decimal.RequireFromString("10")), "shipping = %s", order.ShippingCost)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("285.00")), "total = %s", order.Total)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, testAddress, order.ShippingAddress)

	require.Len(t, order.Items, 2)
	assert.Equal(t, "Widget", order.Items[0].ProductName)
	assert.Equal(t, "WID-1", order.Items[0].ProductSKU)
	assert.Equal(t, "Gadget", order.Items[1].ProductName)

	// Stock was decremented exactly by the ordered quantities.
	assert.Equal(t, 8, f.available(t, 1))
	assert.Equal(t, 4, f.available(t, 2))

	// Cart is emptied, not deleted.
	cart, err := f.store.GetCartByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	// Retrievable by both keys.
	byID, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, byID.OrderNumber)

	byNumber, err := f.orders.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, order.ID, byNumber.ID)
}

func TestPlaceOrderNumberFormat(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, 1, models.CartItem{ProductID: 1, Quantity: 1, UnitPrice: decimal.RequireFromString("100.00")})

	order, err := f.orders.PlaceOrder(context.Background(), 1, testAddress)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^ORD-\d{4}-[0-9A-F]{8}$`), order.OrderNumber)
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.PlaceOrder(context.Background(), 1, testAddress)
	assert.ErrorIs(t, err, models.ErrEmptyCart)
}

func TestPlaceOrderUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.PlaceOrder(context.Background(), 999, testAddress)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPlaceOrderInsufficientStockLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, 1, models.CartItem{ProductID: 2, Quantity: 6, UnitPrice: decimal.RequireFromString("50.00")})

	_, err := f.orders.PlaceOrder(ctx, 1, testAddress)
	require.Error(t, err)
	assert.True(t, models.IsInsufficientStock(err))

	var stockErr *models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(2), stockErr.ProductID)

	assert.Equal(t, 5, f.available(t, 2))

	// The cart survives a failed placement so the user can amend and retry.
	cart, err := f.store.GetCartByUserID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 6, cart.Items[0].Quantity)

	// No order was persisted.
	orders, err := f.orders.ListOrders(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPlaceOrderPartialFailureRollsBackEarlierLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, 1,
		models.CartItem{ProductID: 1, Quantity: 3, UnitPrice: decimal.RequireFromString("100.00")},
		models.CartItem{ProductID: 2, Quantity: 6, UnitPrice: decimal.RequireFromString("50.00")},
	)

	_, err := f.orders.PlaceOrder(ctx, 1, testAddress)
	require.Error(t, err)
	assert.True(t, models.IsInsufficientStock(err))

	// The granted reservation for product 1 was compensated.
	assert.Equal(t, 10, f.available(t, 1))
	assert.Equal(t, 5, f.available(t, 2))
}

// With 5 units in stock and 8 buyers racing for one unit each, exactly 5
// placements succeed and stock lands on zero. No interleaving may oversell.
func TestPlaceOrderConcurrentContention(t *testing.T) {
	ctx := context.Background()
	const stock = 5
	const buyers = 8

	f := newFixture(t)
	f.ledger.SetStock(2, stock)

	for i := int64(1); i <= buyers; i++ {
		if i > 1 {
			f.store.AddUser(models.User{ID: i, Email: fmt.Sprintf("buyer%d@example.com", i)})
		}
		f.fillCart(t, i, models.CartItem{ProductID: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("50.00")})
	}

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orders.PlaceOrder(ctx, int64(i+1), testAddress)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, models.IsInsufficientStock(err), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, stock, succeeded)
	assert.Equal(t, 0, f.available(t, 2))
}

func TestPlaceOrderNumbersUnique(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping bulk placement run in short mode")
	}

	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SetStock(1, 10000)

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		f.fillCart(t, 1, models.CartItem{ProductID: 1, Quantity: 1, UnitPrice: decimal.RequireFromString("100.00")})
		order, err := f.orders.PlaceOrder(ctx, 1, testAddress)
		require.NoError(t, err)

		_, dup := seen[order.OrderNumber]
		require.False(t, dup, "duplicate order number %s", order.OrderNumber)
		seen[order.OrderNumber] = struct{}{}
	}
}

func TestListOrdersPagination(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SetStock(1, 100)

	var placed []int64
	for i := 0; i < 25; i++ {
		f.fillCart(t, 1, models.CartItem{ProductID: 1, Quantity: 1, UnitPrice: decimal.RequireFromString("100.00")})
		order, err := f.orders.PlaceOrder(ctx, 1, testAddress)
		require.NoError(t, err)
		placed = append(placed, order.ID)
	}

	page0, err := f.orders.ListOrders(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, page0, 10)
	// Newest first.
	assert.Equal(t, placed[24], page0[0].ID)

	page2, err := f.orders.ListOrders(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 5)

	page3, err := f.orders.ListOrders(ctx, 1, 3)
	require.NoError(t, err)
	assert.Empty(t, page3)

	// Negative pages clamp to the first page.
	pageNeg, err := f.orders.ListOrders(ctx, 1, -1)
	require.NoError(t, err)
	assert.Len(t, pageNeg, 10)

	// A page number large enough to overflow the offset arithmetic is just an
	// empty page, not a panic.
	pageHuge, err := f.orders.ListOrders(ctx, 1, math.MaxInt)
	require.NoError(t, err)
	assert.Empty(t, pageHuge)
}

func TestUpdateStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, 1, models.CartItem{ProductID: 1, Quantity: 1, UnitPrice: decimal.RequireFromString("100.00")})

	order, err := f.orders.PlaceOrder(ctx, 1, testAddress)
	require.NoError(t, err)

	// PENDING -> SHIPPED skips PROCESSING and must be rejected.
	_, err = f.orders.UpdateStatus(ctx, order.ID, models.OrderStatusShipped)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	for _, next := range []models.OrderStatus{
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	} {
		order, err = f.orders.UpdateStatus(ctx, order.ID, next)
		require.NoError(t, err)
		assert.Equal(t, next, order.Status)
	}

	// DELIVERED is terminal.
	_, err = f.orders.UpdateStatus(ctx, order.ID, models.OrderStatusCancelled)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCancelRestocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, 1,
		models.CartItem{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("100.00")},
		models.CartItem{ProductID: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("50.00")},
	)

	order, err := f.orders.PlaceOrder(ctx, 1, testAddress)
	require.NoError(t, err)
	assert.Equal(t, 8, f.available(t, 1))

	cancelled, err := f.orders.Cancel(ctx, order.ID, "customer_request")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentStatusPending, cancelled.PaymentStatus)

	assert.Equal(t, 10, f.available(t, 1))
	assert.Equal(t, 5, f.available(t, 2))
}

func TestCancelPaidOrderRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, 1, models.CartItem{ProductID: 1, Quantity: 1, UnitPrice: decimal.RequireFromString("100.00")})

	order, err := f.orders.PlaceOrder(ctx, 1, testAddress)
	require.NoError(t, err)

	intent, err := f.payments.RequestPayment(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.payments.HandlePaymentResult(ctx, intent.ID, true)
	require.NoError(t, err)

	cancelled, err := f.orders.Cancel(ctx, order.ID, "customer_request")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentStatusRefunded, cancelled.PaymentStatus)
}

func TestCancelShippedOrderRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fillCart(t, 1, models.CartItem{ProductID: 1, Quantity: 1, UnitPrice: decimal.RequireFromString("100.00")})

	order, err := f.orders.PlaceOrder(ctx, 1, testAddress)
	require.NoError(t, err)

	_, err = f.orders.UpdateStatus(ctx, order.ID, models.OrderStatusProcessing)
	require.NoError(t, err)
	_, err = f.orders.UpdateStatus(ctx, order.ID, models.OrderStatusShipped)
	require.NoError(t, err)

	_, err = f.orders.Cancel(ctx, order.ID, "too_late")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// Stock stays reserved by the shipped order.
	assert.Equal(t, 9, f.available(t, 1))
}
