package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tokoledger/backend/internal/domain"
)

// CatalogCache holds catalog listings per warehouse. Invalidate drops every
// listing cached for the warehouse.
type CatalogCache interface {
	Get(ctx context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.CatalogItem, bool, error)
	Set(ctx context.Context, warehouseID string, filter domain.CatalogFilter, items []domain.CatalogItem, ttl time.Duration) error
	Invalidate(ctx context.Context, warehouseID string) error
}

func filterKey(filter domain.CatalogFilter) string {
	return fmt.Sprintf("%s|%s|%d",
		strings.ToLower(strings.TrimSpace(filter.Category)),
		strings.ToLower(strings.TrimSpace(filter.Query)),
		filter.Limit)
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string, _ domain.CatalogFilter) ([]domain.CatalogItem, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ domain.CatalogFilter, _ []domain.CatalogItem, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

type memoryEntry struct {
	items     []domain.CatalogItem
	expiresAt time.Time
}

// MemoryCatalogCache is a process-local cache for single-instance deployments.
type MemoryCatalogCache struct {
	mu      sync.Mutex
	entries map[string]map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCatalogCache() *MemoryCatalogCache {
	return &MemoryCatalogCache{
		entries: make(map[string]map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCatalogCache) Get(_ context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.CatalogItem, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[warehouseID][filterKey(filter)]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return append([]domain.CatalogItem(nil), entry.items...), true, nil
}

func (c *MemoryCatalogCache) Set(_ context.Context, warehouseID string, filter domain.CatalogFilter, items []domain.CatalogItem, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byFilter, ok := c.entries[warehouseID]
	if !ok {
		byFilter = make(map[string]memoryEntry)
		c.entries[warehouseID] = byFilter
	}
	byFilter[filterKey(filter)] = memoryEntry{
		items:     append([]domain.CatalogItem(nil), items...),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *MemoryCatalogCache) Invalidate(_ context.Context, warehouseID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, warehouseID)
	return nil
}
