package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store/memory"
)

func TestRefreshUpsertsWithoutDeleting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	all, err := h.catalog.Refresh(ctx, memory.SeedWarehouseID, domain.CatalogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 10)

	h.repo.SetStock(memory.SeedWarehouseID, "SKU-TEH-01", 7)
	narrow, err := h.catalog.Refresh(ctx, memory.SeedWarehouseID, domain.CatalogFilter{Query: "teh"})
	require.NoError(t, err)
	require.Len(t, narrow, 1)

	cached, err := h.catalog.ReadCached(ctx, memory.SeedWarehouseID, domain.CatalogFilter{})
	require.NoError(t, err)
	assert.Len(t, cached, 10)

	stock, ok, err := h.catalog.StockFor(ctx, memory.SeedWarehouseID, "SKU-TEH-01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, stock)
}

func TestRefreshOfAnotherWarehouseKeepsStockApart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.catalog.Refresh(ctx, memory.SeedWarehouseID, domain.CatalogFilter{})
	require.NoError(t, err)
	_, err = h.catalog.Refresh(ctx, memory.SeedBackWarehouse, domain.CatalogFilter{})
	require.NoError(t, err)

	mainStock, ok, err := h.catalog.StockFor(ctx, memory.SeedWarehouseID, "SKU-AIR-01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 120, mainStock)

	back, ok, err := h.catalog.StockFor(ctx, memory.SeedBackWarehouse, "SKU-AIR-01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 40, back)

	// The soft check reads the session's own warehouse.
	sess := h.openShift(t, 0)
	_, err = h.sales.CreateSale(ctx, sess, cashSale("SKU-AIR-01", 60, 3900))
	require.NoError(t, err)
}

func TestBrowseFallsBackToCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, fromCache, err := h.catalog.Browse(ctx, memory.SeedWarehouseID, domain.CatalogFilter{Category: "beverage"})
	require.NoError(t, err)
	assert.False(t, fromCache)

	h.conn.Set(false)
	entries, fromCache, err := h.catalog.Browse(ctx, memory.SeedWarehouseID, domain.CatalogFilter{Category: "beverage"})
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Len(t, entries, 3)

	h.conn.Set(true)
	h.backend.listErr = domain.Network("list catalog", errors.New("connection reset"))
	entries, fromCache, err = h.catalog.Browse(ctx, memory.SeedWarehouseID, domain.CatalogFilter{Query: "kopi"})
	require.NoError(t, err)
	assert.True(t, fromCache)
	require.Len(t, entries, 1)
	assert.Equal(t, "SKU-KOPI-01", entries[0].ProductID)

	h.backend.listErr = domain.Validation("list catalog", "warehouse_id", "unknown warehouse")
	_, _, err = h.catalog.Browse(ctx, "WH-NOWHERE", domain.CatalogFilter{})
	require.ErrorIs(t, err, domain.ErrValidation)
}
