package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store is the persistence surface the services depend on. Two
// implementations exist: Postgres and the in-memory Memory store (tests and
// the memory driver).
type Store interface {
	// Catalog and users (simple lookups, external collaborator concerns)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)

	// Carts
	GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error)
	SaveCart(ctx context.Context, cart *models.Cart) error
	ClearCart(ctx context.Context, userID int64) error

	// Orders
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	GetOrderByPaymentIntentID(ctx context.Context, intentID string) (*models.Order, error)
	ListOrdersByUserID(ctx context.Context, userID int64, limit, offset int) ([]models.Order, error)
	SetPaymentIntent(ctx context.Context, orderID int64, intentID string) error
	TransitionOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ApplyPaymentEvent(ctx context.Context, intentID string, event models.PaymentEvent) (*models.Order, bool, error)

	Close() error
}

// Postgres is the sqlx-backed Store implementation. It also implements
// inventory.Ledger against the inventory table using row locks.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres connects to the database and returns the store
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close closes the database connection
func (s *Postgres) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Postgres) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product by ID
func (s *Postgres) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT id, sku, name, price, discount_price, created_at FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetUserByID retrieves a user by ID
func (s *Postgres) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		"SELECT id, email, created_at FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetCartByUserID retrieves a user's cart with its lines in insertion order.
// Every user is provisioned a cart at registration, so absence is NotFound.
func (s *Postgres) GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart,
		"SELECT id, user_id, updated_at FROM carts WHERE user_id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cart for user %d: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &cart.Items,
		"SELECT product_id, quantity, unit_price FROM cart_items WHERE cart_id = $1 ORDER BY id", cart.ID)
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// SaveCart replaces the cart's lines with the given set.
func (s *Postgres) SaveCart(ctx context.Context, cart *models.Cart) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cart.ID); err != nil {
		return err
	}

	for _, item := range cart.Items {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO cart_items (cart_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4)",
			cart.ID, item.ProductID, item.Quantity, item.UnitPrice); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE carts SET updated_at = NOW() WHERE id = $1", cart.ID); err != nil {
		return err
	}

	return tx.Commit()
}

// ClearCart removes all lines from a user's cart. The cart itself survives.
func (s *Postgres) ClearCart(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cart_items
		WHERE cart_id = (SELECT id FROM carts WHERE user_id = $1)`, userID)
	return err
}

// Reserve atomically checks and decrements available stock (FOR UPDATE lock).
// Implements inventory.Ledger.
func (s *Postgres) Reserve(ctx context.Context, productID int64, quantity int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var available int
	err = tx.GetContext(ctx, &available,
		"SELECT available FROM inventory WHERE product_id = $1 FOR UPDATE", productID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("inventory for product %d: %w", productID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock inventory: %w", err)
	}

	if available < quantity {
		return &models.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: available,
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE inventory SET available = available - $1, updated_at = NOW() WHERE product_id = $2",
		quantity, productID); err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}

	return tx.Commit()
}

// Release increments available stock (compensation / cancellation restock).
// Implements inventory.Ledger.
func (s *Postgres) Release(ctx context.Context, productID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE inventory SET available = available + $1, updated_at = NOW() WHERE product_id = $2",
		quantity, productID)
	return err
}

// ListInventory returns available quantities for every product, used for
// the boot-time Redis counter sync.
func (s *Postgres) ListInventory(ctx context.Context) (map[int64]int, error) {
	rows := []struct {
		ProductID int64 `db:"product_id"`
		Available int   `db:"available"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, "SELECT product_id, available FROM inventory"); err != nil {
		return nil, err
	}

	out := make(map[int64]int, len(rows))
	for _, r := range rows {
		out[r.ProductID] = r.Available
	}
	return out, nil
}

// Available returns the current available quantity for a product.
// Implements inventory.Ledger.
func (s *Postgres) Available(ctx context.Context, productID int64) (int, error) {
	var available int
	err := s.db.GetContext(ctx, &available,
		"SELECT available FROM inventory WHERE product_id = $1", productID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("inventory for product %d: %w", productID, models.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return available, nil
}
