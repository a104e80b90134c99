package pricing

import (
	"testing"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculate(t *testing.T) {
	items := []models.OrderItem{
		{UnitPrice: dec("100.00"), Quantity: 2},
		{UnitPrice: dec("50.00"), Quantity: 1},
	}

	totals := Calculate(items)

	assert.True(t, totals.Subtotal.Equal(dec("250.00")), "subtotal = %s", totals.Subtotal)
	assert.True(t, totals.Tax.Equal(dec("25.00")), "tax = %s", totals.Tax)
	assert.True(t, totals.ShippingCost.Equal(dec("10")), "shipping = %s", totals.ShippingCost)
	assert.True(t, totals.Total.Equal(dec("285.00")), "total = %s", totals.Total)
}

func TestCalculateEmpty(t *testing.T) {
	totals := Calculate(nil)

	assert.True(t, totals.Subtotal.IsZero())
	assert.True(t, totals.Tax.IsZero())
	assert.True(t, totals.Total.Equal(ShippingFlat))
}

func TestCalculateInvariants(t *testing.T) {
	items := []models.OrderItem{
		{UnitPrice: dec("19.99"), Quantity: 3},
		{UnitPrice: dec("0.01"), Quantity: 7},
		{UnitPrice: dec("1234.56"), Quantity: 1},
	}

	totals := Calculate(items)

	expectedSubtotal := dec("19.99").Mul(decimal.NewFromInt(3)).
		Add(dec("0.01").Mul(decimal.NewFromInt(7))).
		Add(dec("1234.56"))
	assert.True(t, totals.Subtotal.Equal(expectedSubtotal))
	assert.True(t, totals.Total.Equal(totals.Subtotal.Add(totals.Tax).Add(totals.ShippingCost)))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(28500), MinorUnits(dec("285.00")))
	assert.Equal(t, int64(1999), MinorUnits(dec("19.99")))
	assert.Equal(t, int64(1), MinorUnits(dec("0.01")))
	assert.Equal(t, int64(0), MinorUnits(decimal.Zero))
}
