// Package gateway is a mock payment gateway. It issues opaque payment-intent
// references with no real network call and always succeeds; outcomes arrive
// later through the asynchronous callback path.
package gateway

import (
	"context"
	"fmt"
	"math/rand"

	"storefront/internal/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Intent is a mock payment intent. The amount is in the gateway's minor-unit
// integer convention (cents).
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
}

// Stub issues mock intents and simulates gateway decisions at a configurable
// success rate.
type Stub struct {
	successRate float64
}

// NewStub creates a stub gateway. successRate in [0,1] controls the share of
// simulated payments that succeed.
func NewStub(successRate float64) *Stub {
	return &Stub{successRate: successRate}
}

// CreateIntent issues a payment-intent reference keyed to an order total.
func (s *Stub) CreateIntent(ctx context.Context, orderID int64, total decimal.Decimal) (*Intent, error) {
	_ = ctx

	id := fmt.Sprintf("pi_mock_%s", uuid.New().String())
	return &Intent{
		ID:           id,
		ClientSecret: fmt.Sprintf("%s_secret_%s", id, uuid.New().String()),
		Amount:       pricing.MinorUnits(total),
	}, nil
}

// SimulateOutcome rolls the mock gateway's decision for an intent.
func (s *Stub) SimulateOutcome() bool {
	return rand.Float64() < s.successRate
}
