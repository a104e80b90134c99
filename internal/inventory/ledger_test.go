package inventory

import (
	"context"
	"sync"
	"testing"

	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.SetStock(1, 10)

	require.NoError(t, ledger.Reserve(ctx, 1, 4))

	available, err := ledger.Available(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, available)

	require.NoError(t, ledger.Release(ctx, 1, 4))

	available, err = ledger.Available(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, available)
}

func TestReserveInsufficientLeavesStockUntouched(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.SetStock(1, 3)

	err := ledger.Reserve(ctx, 1, 5)
	require.Error(t, err)

	var stockErr *models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(1), stockErr.ProductID)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, 3, stockErr.Available)

	available, err := ledger.Available(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, available)
}

func TestReserveUnknownProductHasZeroStock(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	err := ledger.Reserve(ctx, 42, 1)
	assert.True(t, models.IsInsufficientStock(err))
}

// With stock N and N concurrent single-unit reservations, all must succeed
// and the counter must land exactly on zero. No interleaving may oversell.
func TestConcurrentReservationsExhaustExactly(t *testing.T) {
	ctx := context.Background()
	const stock = 100

	ledger := NewMemoryLedger()
	ledger.SetStock(1, stock)

	var wg sync.WaitGroup
	errs := make([]error, stock)
	for i := 0; i < stock; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ledger.Reserve(ctx, 1, 1)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "reservation %d", i)
	}

	available, err := ledger.Available(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, available)

	// One more must fail.
	assert.True(t, models.IsInsufficientStock(ledger.Reserve(ctx, 1, 1)))
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	const stock = 50
	const contenders = 200

	ledger := NewMemoryLedger()
	ledger.SetStock(1, stock)

	var wg sync.WaitGroup
	granted := make(chan struct{}, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ledger.Reserve(ctx, 1, 1) == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	assert.Equal(t, stock, len(granted))

	available, err := ledger.Available(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, available)
}
