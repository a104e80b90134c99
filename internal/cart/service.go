// Package cart implements the mutable cart store operations.
package cart

import (
	"context"
	"fmt"

	"storefront/internal/inventory"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Service owns cart mutation for a user. Availability checks here are
// advisory only; the authoritative check happens at order-placement
// reservation time, since stock can change between cart edit and checkout.
type Service struct {
	store  store.Store
	ledger inventory.Ledger
	logger *zap.Logger
}

// NewService creates a new cart service
func NewService(st store.Store, ledger inventory.Ledger) *Service {
	return &Service{
		store:  st,
		ledger: ledger,
		logger: util.GetLogger(),
	}
}

// Get returns the user's cart. Every user is provisioned a cart at
// registration, so absence is NotFound.
func (s *Service) Get(ctx context.Context, userID int64) (*models.Cart, error) {
	return s.store.GetCartByUserID(ctx, userID)
}

// AddItem adds a product to the cart, merging quantity into an existing line
// for the same product. The unit price is snapshotted at add time: the
// discounted price when present, else the list price.
func (s *Service) AddItem(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1")
	}

	cart, err := s.store.GetCartByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	requested := quantity
	idx := -1
	for i, item := range cart.Items {
		if item.ProductID == productID {
			idx = i
			requested += item.Quantity
			break
		}
	}

	if err := s.checkAvailability(ctx, productID, requested); err != nil {
		return nil, err
	}

	if idx >= 0 {
		cart.Items[idx].Quantity = requested
	} else {
		cart.Items = append(cart.Items, models.CartItem{
			ProductID: productID,
			Quantity:  quantity,
			UnitPrice: product.EffectivePrice(),
		})
	}

	if err := s.store.SaveCart(ctx, cart); err != nil {
		return nil, err
	}

	s.logger.Info("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity))
	return cart, nil
}

// UpdateItemQuantity sets a line's quantity. A quantity of zero or less
// removes the line.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error) {
	cart, err := s.store.GetCartByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, item := range cart.Items {
		if item.ProductID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("product %d: %w", productID, models.ErrCartItemNotFound)
	}

	if quantity <= 0 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	} else {
		if err := s.checkAvailability(ctx, productID, quantity); err != nil {
			return nil, err
		}
		cart.Items[idx].Quantity = quantity
	}

	if err := s.store.SaveCart(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// RemoveItem removes the line for a product, if present.
func (s *Service) RemoveItem(ctx context.Context, userID, productID int64) (*models.Cart, error) {
	cart, err := s.store.GetCartByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	kept := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	cart.Items = kept

	if err := s.store.SaveCart(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// Clear empties the cart. The cart itself survives for the account lifetime.
func (s *Service) Clear(ctx context.Context, userID int64) error {
	return s.store.ClearCart(ctx, userID)
}

func (s *Service) checkAvailability(ctx context.Context, productID int64, quantity int) error {
	available, err := s.ledger.Available(ctx, productID)
	if err != nil {
		return err
	}
	if available < quantity {
		return &models.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: available,
		}
	}
	return nil
}
