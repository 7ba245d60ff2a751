package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

// CatalogCache keeps a best-effort local snapshot of sellable items for
// offline browsing and the soft stock check. It is never the source of truth
// for stock.
type CatalogCache struct {
	backend store.CatalogReader
	local   ProductStore
	conn    *Connectivity
	now     func() time.Time
	log     zerolog.Logger
}

func NewCatalogCache(backend store.CatalogReader, local ProductStore, conn *Connectivity, logger zerolog.Logger) *CatalogCache {
	return &CatalogCache{
		backend: backend,
		local:   local,
		conn:    conn,
		now:     time.Now,
		log:     logger.With().Str("component", "catalog").Logger(),
	}
}

// Refresh fetches from the backend and upserts every returned item. Items
// missing from the result stay cached.
func (c *CatalogCache) Refresh(ctx context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.ProductCacheEntry, error) {
	items, err := c.backend.ListCatalog(ctx, warehouseID, filter)
	if err != nil {
		return nil, err
	}

	cachedAt := c.now().UTC()
	entries := make([]domain.ProductCacheEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, domain.ProductCacheEntry{
			ProductID:   item.ProductID,
			Name:        item.Name,
			Price:       item.Price,
			Stock:       item.Stock,
			Category:    item.Category,
			ImageURL:    item.ImageURL,
			WarehouseID: warehouseID,
			CachedAt:    cachedAt,
		})
	}
	if err := c.local.UpsertProducts(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *CatalogCache) ReadCached(ctx context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.ProductCacheEntry, error) {
	return c.local.ListProducts(ctx, warehouseID, filter)
}

// Browse refreshes while online and falls back to the snapshot when offline
// or when the refresh could not reach the backend.
func (c *CatalogCache) Browse(ctx context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.ProductCacheEntry, bool, error) {
	if !c.conn.Online() {
		entries, err := c.ReadCached(ctx, warehouseID, filter)
		return entries, true, err
	}
	entries, err := c.Refresh(ctx, warehouseID, filter)
	if err == nil {
		return entries, false, nil
	}
	if !domain.IsIndeterminate(err) {
		return nil, false, err
	}
	c.log.Warn().Err(err).Str("warehouse_id", warehouseID).Msg("catalog refresh failed, serving cache")
	entries, err = c.ReadCached(ctx, warehouseID, filter)
	return entries, true, err
}

func (c *CatalogCache) StockFor(ctx context.Context, warehouseID string, productID string) (int, bool, error) {
	return c.local.ProductStock(ctx, warehouseID, productID)
}
