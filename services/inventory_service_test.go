package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
)

type fakeLedger struct {
	mu      sync.Mutex
	applied map[string]map[string]bool
	err     error
}

func (f *fakeLedger) Applied(_ context.Context, key string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for id := range f.applied[key] {
		out[id] = true
	}
	return out, nil
}

func (f *fakeLedger) Record(_ context.Context, key, partID string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.applied == nil {
		f.applied = map[string]map[string]bool{}
	}
	if f.applied[key] == nil {
		f.applied[key] = map[string]bool{}
	}
	f.applied[key][partID] = true
	return nil
}

func TestInventoryService_ApplyStockChange(t *testing.T) {
	stock := &fakeStock{}
	svc := NewInventoryService(stock, &fakeLedger{}, zap.NewNop())
	ctx := context.Background()

	assert.NoError(t, svc.ApplyStockChange(ctx, "evt-1", models.StockMessage{OrderID: "o-1", PartIDs: []string{"1", "2"}, Quantity: 2}, -1))
	assert.NoError(t, svc.ApplyStockChange(ctx, "evt-2", models.StockMessage{OrderID: "o-1", PartIDs: []string{"1"}}, 1))

	assert.Equal(t, map[string]int{"1": -1, "2": -2}, stock.deltas)
}

func TestInventoryService_PartialFailure(t *testing.T) {
	stock := &fakeStock{fail: map[string]error{"2": errors.New("503")}}
	svc := NewInventoryService(stock, &fakeLedger{}, zap.NewNop())

	err := svc.ApplyStockChange(context.Background(), "evt-1", models.StockMessage{OrderID: "o-1", PartIDs: []string{"1", "2", "3"}, Quantity: 1}, -1)
	assert.Error(t, err)
	// the remaining parts are still attempted
	assert.Equal(t, map[string]int{"1": -1, "3": -1}, stock.deltas)
}

func TestInventoryService_RedeliveryOnlyRetriesFailedParts(t *testing.T) {
	stock := &fakeStock{fail: map[string]error{"2": errors.New("503")}}
	svc := NewInventoryService(stock, &fakeLedger{}, zap.NewNop())
	ctx := context.Background()
	msg := models.StockMessage{OrderID: "o-1", PartIDs: []string{"1", "2"}, Quantity: 1}

	require.Error(t, svc.ApplyStockChange(ctx, "evt-1", msg, -1))

	delete(stock.fail, "2")
	require.NoError(t, svc.ApplyStockChange(ctx, "evt-1", msg, -1))
	assert.Equal(t, map[string]int{"1": -1, "2": -1}, stock.deltas)

	// a duplicate of a fully applied message changes nothing
	require.NoError(t, svc.ApplyStockChange(ctx, "evt-1", msg, -1))
	assert.Equal(t, map[string]int{"1": -1, "2": -1}, stock.deltas)
}

func TestInventoryService_LedgerFailureIsRetried(t *testing.T) {
	svc := NewInventoryService(&fakeStock{}, &fakeLedger{err: errors.New("db down")}, zap.NewNop())

	err := svc.ApplyStockChange(context.Background(), "evt-1", models.StockMessage{PartIDs: []string{"1"}}, -1)
	require.Error(t, err)
	_, ok := apperrors.IsValidationError(err)
	assert.False(t, ok)
}

func TestInventoryService_EmptyMessage(t *testing.T) {
	svc := NewInventoryService(&fakeStock{}, &fakeLedger{}, zap.NewNop())
	ctx := context.Background()

	_, ok := apperrors.IsValidationError(svc.ApplyStockChange(ctx, "evt-1", models.StockMessage{OrderID: "o-1"}, -1))
	assert.True(t, ok)

	_, ok = apperrors.IsValidationError(svc.ApplyStockChange(ctx, "", models.StockMessage{PartIDs: []string{"1"}}, -1))
	assert.True(t, ok)
}
