package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/broker"
	"storefront/internal/inventory"
	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const createOrderAttempts = 3

// OrderService is the fulfillment orchestrator. It converts a mutable cart
// into an immutable order as a single all-or-nothing unit of work spanning
// the inventory ledger and the order store. Because those are independently
// owned resources, the orchestrator, not either resource, owns rollback: it
// records granted reservations and releases them in reverse on any
// downstream failure.
type OrderService struct {
	store    store.Store
	ledger   inventory.Ledger
	events   *broker.EventPublisher
	logger   *zap.Logger
	pageSize int
}

// NewOrderService creates a new order service
func NewOrderService(st store.Store, ledger inventory.Ledger, events *broker.EventPublisher, pageSize int) *OrderService {
	return &OrderService{
		store:    st,
		ledger:   ledger,
		events:   events,
		logger:   util.GetLogger(),
		pageSize: pageSize,
	}
}

// PlaceOrder takes a consistent snapshot of the user's cart, reserves
// inventory line by line in insertion order, prices the snapshot, persists
// the order PENDING/PENDING, and clears the cart. Any failure after
// reservations were granted releases them, so a failed placement leaves no
// side effects and is safe to retry by resubmission.
func (s *OrderService) PlaceOrder(ctx context.Context, userID int64, address models.ShippingAddress) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PlaceOrderLatency.Observe(time.Since(start).Seconds())
	}()

	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	cart, err := s.store.GetCartByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, models.ErrEmptyCart
	}

	reserved, err := s.reserveLines(ctx, cart.Items)
	if err != nil {
		if models.IsInsufficientStock(err) {
			util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		} else {
			util.OrdersFailedTotal.WithLabelValues("reservation_error").Inc()
		}
		return nil, err
	}

	items, err := s.snapshotLines(ctx, cart.Items)
	if err != nil {
		s.releaseReservations(ctx, reserved)
		util.OrdersFailedTotal.WithLabelValues("snapshot_error").Inc()
		return nil, err
	}

	totals := pricing.Calculate(items)

	order := &models.Order{
		UserID:          userID,
		Items:           items,
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		ShippingCost:    totals.ShippingCost,
		Total:           totals.Total,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		ShippingAddress: address,
	}

	if err := s.createWithUniqueNumber(ctx, order); err != nil {
		s.releaseReservations(ctx, reserved)
		util.OrdersFailedTotal.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	// The order record now owns the reservation; a cart-clear failure is
	// logged rather than compensated, since releasing stock here would
	// orphan a persisted order.
	if err := s.store.ClearCart(ctx, userID); err != nil {
		s.logger.Error("Failed to clear cart after placement",
			zap.Int64("user_id", userID),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", userID),
		zap.String("total", order.Total.String()))

	s.publishOrderPlaced(ctx, order)
	return order, nil
}

// reserveLines attempts every reservation in insertion order. On the first
// failure it releases the already granted ones in reverse and returns the
// failure naming the offending product.
func (s *OrderService) reserveLines(ctx context.Context, lines []models.CartItem) ([]models.CartItem, error) {
	reserved := make([]models.CartItem, 0, len(lines))
	for _, line := range lines {
		if err := s.ledger.Reserve(ctx, line.ProductID, line.Quantity); err != nil {
			s.releaseReservations(ctx, reserved)
			return nil, err
		}
		reserved = append(reserved, line)
	}
	return reserved, nil
}

// releaseReservations undoes granted reservations in reverse order.
func (s *OrderService) releaseReservations(ctx context.Context, reserved []models.CartItem) {
	for i := len(reserved) - 1; i >= 0; i-- {
		line := reserved[i]
		if err := s.ledger.Release(ctx, line.ProductID, line.Quantity); err != nil {
			s.logger.Error("Failed to release reservation",
				zap.Int64("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
		}
	}
}

// snapshotLines copies name, SKU, quantity and the locked-in unit price into
// order line snapshots, so later catalog edits never alter the order.
func (s *OrderService) snapshotLines(ctx context.Context, lines []models.CartItem) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, err := s.store.GetProductByID(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, models.OrderItem{
			ProductID:   line.ProductID,
			ProductName: product.Name,
			ProductSKU:  product.SKU,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}
	return items, nil
}

func (s *OrderService) createWithUniqueNumber(ctx context.Context, order *models.Order) error {
	var err error
	for attempt := 0; attempt < createOrderAttempts; attempt++ {
		order.OrderNumber = generateOrderNumber()
		err = s.store.CreateOrder(ctx, order)
		if !errors.Is(err, models.ErrDuplicateOrderNumber) {
			return err
		}
		s.logger.Warn("Order number collision, regenerating",
			zap.String("order_number", order.OrderNumber))
	}
	return err
}

func (s *OrderService) publishOrderPlaced(ctx context.Context, order *models.Order) {
	lines := make([]models.OrderLineData, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, models.OrderLineData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderPlaced),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Total:       order.Total,
		Items:       lines,
	}
	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.store.GetOrderByID(ctx, orderID)
}

// GetOrderByNumber retrieves an order by its human-readable number
func (s *OrderService) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return s.store.GetOrderByNumber(ctx, number)
}

// ListOrders retrieves one page of a user's orders, newest first. Pages are
// zero-based.
func (s *OrderService) ListOrders(ctx context.Context, userID int64, page int) ([]models.Order, error) {
	if page < 0 {
		page = 0
	}
	return s.store.ListOrdersByUserID(ctx, userID, s.pageSize, page*s.pageSize)
}

// UpdateStatus moves the order lifecycle (e.g. PROCESSING -> SHIPPED); the
// store validates the transition.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	return s.store.TransitionOrderStatus(ctx, orderID, status)
}

// Cancel cancels an order from PENDING or PROCESSING, releasing its reserved
// stock. A PAID order is marked REFUNDED.
func (s *OrderService) Cancel(ctx context.Context, orderID int64, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	order, err := s.store.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	for _, item := range order.Items {
		if err := s.ledger.Release(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("Failed to restock cancelled order line",
				zap.Int64("order_id", orderID),
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
		}
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", orderID),
		zap.String("reason", reason))

	event := &models.OrderCancelledEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Reason:      reason,
	}
	if err := s.events.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}

	return order, nil
}

// generateOrderNumber returns ORD-<year>-<8 uppercase chars>. Collisions are
// overwhelmingly unlikely; the store's uniqueness constraint catches the rest.
func generateOrderNumber() string {
	suffix := strings.ToUpper(uuid.New().String()[:8])
	return fmt.Sprintf("ORD-%d-%s", time.Now().Year(), suffix)
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}
