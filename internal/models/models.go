package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID            int64            `db:"id" json:"id"`
	SKU           string           `db:"sku" json:"sku"`
	Name          string           `db:"name" json:"name"`
	Price         decimal.Decimal  `db:"price" json:"price"`
	DiscountPrice *decimal.Decimal `db:"discount_price" json:"discount_price,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}

// EffectivePrice returns the discount price when present, else the list price.
// Cart lines snapshot this value at add time.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

// User represents a customer account
type User struct {
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Cart holds the mutable set of lines for a single user (1:1).
// It is cleared, not deleted, after a successful order placement.
type Cart struct {
	ID        int64      `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// CartItem is one cart line. UnitPrice is locked in at add time.
type CartItem struct {
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// ShippingAddress is embedded in an order at placement time.
type ShippingAddress struct {
	Street  string `db:"street" json:"street"`
	City    string `db:"city" json:"city"`
	State   string `db:"state" json:"state"`
	ZipCode string `db:"zip_code" json:"zip_code"`
	Country string `db:"country" json:"country"`
}

// Order is created once, atomically, from a cart snapshot. Line snapshots are
// immutable after creation; only the status fields, payment intent ID and
// tracking number mutate thereafter.
type Order struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	OrderNumber     string          `db:"order_number" json:"order_number"`
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax             decimal.Decimal `db:"tax" json:"tax"`
	ShippingCost    decimal.Decimal `db:"shipping_cost" json:"shipping_cost"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Status          OrderStatus     `db:"status" json:"status"`
	PaymentStatus   PaymentStatus   `db:"payment_status" json:"payment_status"`
	PaymentIntentID string          `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	TrackingNumber  string          `db:"tracking_number" json:"tracking_number,omitempty"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line snapshot copied from the cart and catalog at placement
// time, so later catalog edits never alter historical orders.
type OrderItem struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	ProductSKU  string          `db:"product_sku" json:"product_sku"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// OrderStatus is the order lifecycle axis
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// PaymentStatus is the payment lifecycle axis
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)
