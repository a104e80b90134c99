package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"storefront/internal/models"
)

// Memory is the in-memory Store implementation. It backs the memory store
// driver and the test suites. All methods copy on the way in and out so
// callers never share state with the store.
type Memory struct {
	mu         sync.RWMutex
	users      map[int64]*models.User
	products   map[int64]*models.Product
	carts      map[int64]*models.Cart // keyed by user ID
	orders     map[int64]*models.Order
	byNumber   map[string]int64
	byIntent   map[string]int64
	nextCartID int64
	nextOrder  int64
	nextItemID int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[int64]*models.User),
		products: make(map[int64]*models.Product),
		carts:    make(map[int64]*models.Cart),
		orders:   make(map[int64]*models.Order),
		byNumber: make(map[string]int64),
		byIntent: make(map[string]int64),
	}
}

// Close implements Store.
func (s *Memory) Close() error { return nil }

// AddUser registers a user and provisions their cart, mirroring the
// account-registration collaborator.
func (s *Memory) AddUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = &user

	if _, ok := s.carts[user.ID]; !ok {
		s.nextCartID++
		s.carts[user.ID] = &models.Cart{
			ID:        s.nextCartID,
			UserID:    user.ID,
			UpdatedAt: time.Now().UTC(),
		}
	}
}

// AddProduct registers a catalog product.
func (s *Memory) AddProduct(product models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = &product
}

func (s *Memory) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	clone := *p
	return &clone, nil
}

func (s *Memory) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	clone := *u
	return &clone, nil
}

func (s *Memory) GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[userID]
	if !ok {
		return nil, fmt.Errorf("cart for user %d: %w", userID, models.ErrNotFound)
	}
	return cloneCart(cart), nil
}

func (s *Memory) SaveCart(ctx context.Context, cart *models.Cart) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.carts[cart.UserID]
	if !ok {
		return fmt.Errorf("cart for user %d: %w", cart.UserID, models.ErrNotFound)
	}

	saved := cloneCart(cart)
	saved.ID = existing.ID
	saved.UpdatedAt = time.Now().UTC()
	s.carts[cart.UserID] = saved
	return nil
}

func (s *Memory) ClearCart(ctx context.Context, userID int64) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[userID]
	if !ok {
		return fmt.Errorf("cart for user %d: %w", userID, models.ErrNotFound)
	}
	cart.Items = nil
	cart.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) CreateOrder(ctx context.Context, order *models.Order) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byNumber[order.OrderNumber]; exists {
		return fmt.Errorf("order number %s: %w", order.OrderNumber, models.ErrDuplicateOrderNumber)
	}

	s.nextOrder++
	order.ID = s.nextOrder
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		s.nextItemID++
		order.Items[i].ID = s.nextItemID
		order.Items[i].OrderID = order.ID
	}

	s.orders[order.ID] = cloneOrder(order)
	s.byNumber[order.OrderNumber] = order.ID
	return nil
}

func (s *Memory) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	return cloneOrder(order), nil
}

func (s *Memory) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNumber[number]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", number, models.ErrNotFound)
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *Memory) GetOrderByPaymentIntentID(ctx context.Context, intentID string) (*models.Order, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byIntent[intentID]
	if !ok {
		return nil, fmt.Errorf("payment intent %s: %w", intentID, models.ErrNotFound)
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *Memory) ListOrdersByUserID(ctx context.Context, userID int64, limit, offset int) ([]models.Order, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	// A huge page number can overflow the caller's offset arithmetic into a
	// negative value; treat it like any other page past the end.
	if offset < 0 || offset >= len(all) {
		return []models.Order{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	page := make([]models.Order, 0, end-offset)
	for _, o := range all[offset:end] {
		page = append(page, *cloneOrder(o))
	}
	return page, nil
}

func (s *Memory) SetPaymentIntent(ctx context.Context, orderID int64, intentID string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}

	if order.PaymentIntentID != "" {
		delete(s.byIntent, order.PaymentIntentID)
	}
	order.PaymentIntentID = intentID
	order.UpdatedAt = time.Now().UTC()
	s.byIntent[intentID] = orderID
	return nil
}

func (s *Memory) TransitionOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}

	if !models.CanTransitionOrder(order.Status, status) {
		return nil, fmt.Errorf("order %d: %s -> %s: %w",
			orderID, order.Status, status, models.ErrInvalidTransition)
	}

	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	return cloneOrder(order), nil
}

func (s *Memory) CancelOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}

	if !models.CanTransitionOrder(order.Status, models.OrderStatusCancelled) {
		return nil, fmt.Errorf("order %d: %s -> %s: %w",
			orderID, order.Status, models.OrderStatusCancelled, models.ErrInvalidTransition)
	}

	order.Status = models.OrderStatusCancelled
	// A PAID order refunds; anything else on the payment axis stays put.
	if _, ps, changed := models.ApplyPaymentEvent(order.Status, order.PaymentStatus, models.PaymentEventRefunded); changed {
		order.PaymentStatus = ps
	}
	order.UpdatedAt = time.Now().UTC()
	return cloneOrder(order), nil
}

func (s *Memory) ApplyPaymentEvent(ctx context.Context, intentID string, event models.PaymentEvent) (*models.Order, bool, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byIntent[intentID]
	if !ok {
		return nil, false, fmt.Errorf("payment intent %s: %w", intentID, models.ErrNotFound)
	}
	order := s.orders[id]

	newStatus, newPayment, changed := models.ApplyPaymentEvent(order.Status, order.PaymentStatus, event)
	if !changed {
		return cloneOrder(order), false, nil
	}

	order.Status = newStatus
	order.PaymentStatus = newPayment
	order.UpdatedAt = time.Now().UTC()
	return cloneOrder(order), true, nil
}

func cloneCart(cart *models.Cart) *models.Cart {
	clone := *cart
	clone.Items = append([]models.CartItem(nil), cart.Items...)
	return &clone
}

func cloneOrder(order *models.Order) *models.Order {
	clone := *order
	clone.Items = append([]models.OrderItem(nil), order.Items...)
	return &clone
}
