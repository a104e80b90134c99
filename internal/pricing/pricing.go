// Package pricing computes order totals with exact decimal arithmetic.
// Binary floating point is never used for money; rounding for display is a
// presentation concern and does not happen here.
package pricing

import (
	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// Fixed rates. Tax is a flat 10%, shipping a flat fee regardless of weight or
// destination.
var (
	TaxRate      = decimal.NewFromFloat(0.10)
	ShippingFlat = decimal.NewFromInt(10)
)

// Totals is the result of pricing a set of order lines.
type Totals struct {
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Total        decimal.Decimal
}

// Calculate prices an ordered sequence of line snapshots:
// subtotal = sum(unit_price * quantity), tax = subtotal * 0.10,
// total = subtotal + tax + shipping.
func Calculate(items []models.OrderItem) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(line)
	}

	tax := subtotal.Mul(TaxRate)
	total := subtotal.Add(tax).Add(ShippingFlat)

	return Totals{
		Subtotal:     subtotal,
		Tax:          tax,
		ShippingCost: ShippingFlat,
		Total:        total,
	}
}

// MinorUnits converts a total to the gateway's minor-unit integer convention
// (cents). Exact for any amount with at most two decimal places.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}
