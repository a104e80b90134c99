package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, order_number, subtotal, tax, shipping_cost, total,
	status, payment_status, payment_intent_id, tracking_number,
	street, city, state, zip_code, country, created_at, updated_at`

// orderRow flattens the embedded shipping address for sqlx scanning.
type orderRow struct {
	ID              int64                `db:"id"`
	UserID          int64                `db:"user_id"`
	OrderNumber     string               `db:"order_number"`
	Subtotal        decimal.Decimal      `db:"subtotal"`
	Tax             decimal.Decimal      `db:"tax"`
	ShippingCost    decimal.Decimal      `db:"shipping_cost"`
	Total           decimal.Decimal      `db:"total"`
	Status          models.OrderStatus   `db:"status"`
	PaymentStatus   models.PaymentStatus `db:"payment_status"`
	PaymentIntentID string               `db:"payment_intent_id"`
	TrackingNumber  string               `db:"tracking_number"`
	Street          string               `db:"street"`
	City            string               `db:"city"`
	State           string               `db:"state"`
	ZipCode         string               `db:"zip_code"`
	Country         string               `db:"country"`
	CreatedAt       time.Time            `db:"created_at"`
	UpdatedAt       time.Time            `db:"updated_at"`
}

func (r *orderRow) toOrder() *models.Order {
	return &models.Order{
		ID:              r.ID,
		UserID:          r.UserID,
		OrderNumber:     r.OrderNumber,
		Subtotal:        r.Subtotal,
		Tax:             r.Tax,
		ShippingCost:    r.ShippingCost,
		Total:           r.Total,
		Status:          r.Status,
		PaymentStatus:   r.PaymentStatus,
		PaymentIntentID: r.PaymentIntentID,
		TrackingNumber:  r.TrackingNumber,
		ShippingAddress: models.ShippingAddress{
			Street:  r.Street,
			City:    r.City,
			State:   r.State,
			ZipCode: r.ZipCode,
			Country: r.Country,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// CreateOrder persists a new order with its immutable line snapshots.
func (s *Postgres) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (user_id, order_number, subtotal, tax, shipping_cost, total,
			status, payment_status, payment_intent_id, tracking_number,
			street, city, state, zip_code, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`

	row := tx.QueryRowxContext(ctx, query,
		order.UserID, order.OrderNumber, order.Subtotal, order.Tax,
		order.ShippingCost, order.Total, order.Status, order.PaymentStatus,
		order.PaymentIntentID, order.TrackingNumber,
		order.ShippingAddress.Street, order.ShippingAddress.City,
		order.ShippingAddress.State, order.ShippingAddress.ZipCode,
		order.ShippingAddress.Country)
	if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("order number %s: %w", order.OrderNumber, models.ErrDuplicateOrderNumber)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, product_sku, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			item.OrderID, item.ProductID, item.ProductName, item.ProductSKU,
			item.Quantity, item.UnitPrice).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Postgres) getOrder(ctx context.Context, q sqlx.QueryerContext, where string, arg interface{}) (*models.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, q, &row,
		fmt.Sprintf("SELECT %s FROM orders WHERE %s", orderColumns, where), arg)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	order := row.toOrder()
	err = sqlx.SelectContext(ctx, q, &order.Items, `
		SELECT id, order_id, product_id, product_name, product_sku, quantity, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY id`, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrderByID retrieves an order with its line snapshots
func (s *Postgres) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return s.getOrder(ctx, s.db, "id = $1", id)
}

// GetOrderByNumber retrieves an order by its human-readable number
func (s *Postgres) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return s.getOrder(ctx, s.db, "order_number = $1", number)
}

// GetOrderByPaymentIntentID retrieves the order a payment reference belongs to
func (s *Postgres) GetOrderByPaymentIntentID(ctx context.Context, intentID string) (*models.Order, error) {
	return s.getOrder(ctx, s.db, "payment_intent_id = $1", intentID)
}

// ListOrdersByUserID retrieves a page of a user's orders, newest first.
func (s *Postgres) ListOrdersByUserID(ctx context.Context, userID int64, limit, offset int) ([]models.Order, error) {
	// Postgres rejects a negative OFFSET; an overflowed page is an empty one.
	if offset < 0 || limit <= 0 {
		return []models.Order{}, nil
	}

	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows,
		fmt.Sprintf("SELECT %s FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
			orderColumns), userID, limit, offset)
	if err != nil {
		return nil, err
	}

	orders := make([]models.Order, 0, len(rows))
	for i := range rows {
		order := rows[i].toOrder()
		if err := s.db.SelectContext(ctx, &order.Items, `
			SELECT id, order_id, product_id, product_name, product_sku, quantity, unit_price
			FROM order_items WHERE order_id = $1 ORDER BY id`, order.ID); err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// SetPaymentIntent stores the gateway reference on an order. Status is not
// touched; requesting an intent does not advance state.
func (s *Postgres) SetPaymentIntent(ctx context.Context, orderID int64, intentID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_intent_id = $1, updated_at = NOW() WHERE id = $2",
		intentID, orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	return nil
}

// TransitionOrderStatus moves the order lifecycle, validating the transition
// under a row lock.
func (s *Postgres) TransitionOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := s.getOrder(ctx, tx, "id = $1 FOR UPDATE", orderID)
	if err != nil {
		return nil, err
	}

	if !models.CanTransitionOrder(order.Status, status) {
		return nil, fmt.Errorf("order %d: %s -> %s: %w",
			orderID, order.Status, status, models.ErrInvalidTransition)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	order.Status = status
	return order, nil
}

// CancelOrder transitions the order to CANCELLED; a PAID order also becomes
// REFUNDED. The caller releases the reserved stock afterwards.
func (s *Postgres) CancelOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := s.getOrder(ctx, tx, "id = $1 FOR UPDATE", orderID)
	if err != nil {
		return nil, err
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

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, payment_status = $2, updated_at = NOW() WHERE id = $3",
		order.Status, order.PaymentStatus, orderID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

// ApplyPaymentEvent atomically applies a gateway outcome to the order the
// payment reference belongs to. Re-applying a terminal outcome is a no-op
// (changed = false), which makes the webhook idempotent.
func (s *Postgres) ApplyPaymentEvent(ctx context.Context, intentID string, event models.PaymentEvent) (*models.Order, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	order, err := s.getOrder(ctx, tx, "payment_intent_id = $1 FOR UPDATE", intentID)
	if err != nil {
		return nil, false, err
	}

	newStatus, newPayment, changed := models.ApplyPaymentEvent(order.Status, order.PaymentStatus, event)
	if !changed {
		return order, false, nil
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, payment_status = $2, updated_at = NOW() WHERE id = $3",
		newStatus, newPayment, order.ID); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	order.Status = newStatus
	order.PaymentStatus = newPayment
	return order, true, nil
}
