package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

const (
	SeedBranchID      = "main-branch"
	SeedWarehouseID   = "WH-MAIN"
	SeedBackWarehouse = "WH-BACK"

	SeedMainStock = 120
	SeedBackStock = 40
)

var _ store.Repository = (*Store)(nil)

type Store struct {
	mu                  sync.RWMutex
	products            map[string]domain.Product
	warehouseBranch     map[string]string
	stock               map[string]map[string]int
	shiftsByID          map[string]domain.Shift
	activeShiftByBranch map[string]string
	salesByID           map[string]*domain.Sale
	salesByIdem         map[string]*domain.Sale
	documentsByID       map[string]*domain.InventoryDocument
	auditLogs           []domain.AuditLog
}

func New() *Store {
	return &Store{
		products:            make(map[string]domain.Product),
		warehouseBranch:     make(map[string]string),
		stock:               make(map[string]map[string]int),
		shiftsByID:          make(map[string]domain.Shift),
		activeShiftByBranch: make(map[string]string),
		salesByID:           make(map[string]*domain.Sale),
		salesByIdem:         make(map[string]*domain.Sale),
		documentsByID:       make(map[string]*domain.InventoryDocument),
		auditLogs:           make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded returns a store with one branch, two warehouses and a grocery
// catalog, for demo mode and tests.
func NewSeeded() *Store {
	s := New()
	s.AddWarehouse(SeedWarehouseID, SeedBranchID)
	s.AddWarehouse(SeedBackWarehouse, SeedBranchID)

	for _, p := range SeedProducts() {
		s.AddProduct(p)
		s.SetStock(SeedWarehouseID, p.ID, SeedMainStock)
		s.SetStock(SeedBackWarehouse, p.ID, SeedBackStock)
	}
	return s
}

// SeedProducts is the demo catalog. Seeded warehouses hold SeedMainStock of
// each item in WH-MAIN and SeedBackStock in WH-BACK.
func SeedProducts() []domain.Product {
	return []domain.Product{
		{ID: "SKU-MIE-01", Name: "Mie Goreng Instan", Category: "grocery", Price: 3500, Active: true},
		{ID: "SKU-TELUR-01", Name: "Telur 10 Butir", Category: "grocery", Price: 26500, Active: true},
		{ID: "SKU-SUSU-01", Name: "Susu UHT 1L", Category: "dairy", Price: 18900, Active: true},
		{ID: "SKU-ROTI-01", Name: "Roti Tawar", Category: "bakery", Price: 17800, Active: true},
		{ID: "SKU-KOPI-01", Name: "Kopi Sachet", Category: "beverage", Price: 2600, Active: true},
		{ID: "SKU-GULA-01", Name: "Gula 1kg", Category: "grocery", Price: 17400, Active: true},
		{ID: "SKU-TEH-01", Name: "Teh Celup", Category: "beverage", Price: 9800, Active: true},
		{ID: "SKU-AIR-01", Name: "Air Mineral 600ml", Category: "beverage", Price: 3900, Active: true},
		{ID: "SKU-KERIPIK-01", Name: "Keripik Singkong", Category: "snack", Price: 12800, Active: true},
		{ID: "SKU-SABUN-01", Name: "Sabun Mandi", Category: "household", Price: 7400, Active: true},
	}
}

func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) AddWarehouse(warehouseID string, branchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warehouseBranch[warehouseID] = branchID
	if _, ok := s.stock[warehouseID]; !ok {
		s.stock[warehouseID] = make(map[string]int)
	}
}

func (s *Store) SetStock(warehouseID string, productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stock[warehouseID]; !ok {
		s.stock[warehouseID] = make(map[string]int)
	}
	s.stock[warehouseID][productID] = qty
}

func (s *Store) ListCatalog(_ context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels, ok := s.stock[warehouseID]
	if !ok {
		return nil, domain.NotFound("list catalog", "warehouse %s not found", warehouseID)
	}

	category := strings.ToLower(strings.TrimSpace(filter.Category))
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	items := make([]domain.CatalogItem, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if category != "" && strings.ToLower(p.Category) != category {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) && !strings.Contains(strings.ToLower(p.ID), query) {
			continue
		}
		items = append(items, domain.CatalogItem{
			ProductID:   p.ID,
			Name:        p.Name,
			Category:    p.Category,
			Price:       p.Price,
			Stock:       levels[p.ID],
			ImageURL:    p.ImageURL,
			WarehouseID: warehouseID,
		})
	}

	slices.SortFunc(items, func(a, b domain.CatalogItem) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (s *Store) GetStock(_ context.Context, warehouseID string, productID string) (domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels, ok := s.stock[warehouseID]
	if !ok {
		return domain.StockLevel{}, domain.NotFound("get stock", "warehouse %s not found", warehouseID)
	}
	return domain.StockLevel{WarehouseID: warehouseID, ProductID: productID, Quantity: levels[productID]}, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// applyDeltas must be called with s.mu held.
func (s *Store) applyDeltas(deltas []domain.StockDelta) {
	for _, d := range deltas {
		levels, ok := s.stock[d.WarehouseID]
		if !ok {
			levels = make(map[string]int)
			s.stock[d.WarehouseID] = levels
		}
		levels[d.ProductID] += d.Quantity
	}
}

// checkAvailable rejects deltas that would drive a balance below zero.
// Must be called with s.mu held.
func (s *Store) checkAvailable(op string, deltas []domain.StockDelta) error {
	need := map[[2]string]int{}
	for _, d := range deltas {
		need[[2]string{d.WarehouseID, d.ProductID}] += d.Quantity
	}
	for key, qty := range need {
		if qty >= 0 {
			continue
		}
		if s.stock[key[0]][key[1]]+qty < 0 {
			return domain.Conflict(op, "insufficient stock for %s in %s", key[1], key[0])
		}
	}
	return nil
}

func cloneShift(src domain.Shift) *domain.Shift {
	dup := src
	dup.Breakdown = slices.Clone(src.Breakdown)
	return &dup
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Lines = slices.Clone(src.Lines)
	return &dup
}

func cloneDocument(src *domain.InventoryDocument) *domain.InventoryDocument {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Lines = slices.Clone(src.Lines)
	dup.PostedDeltas = slices.Clone(src.PostedDeltas)
	return &dup
}

func int64Ptr(v int64) *int64 {
	return &v
}
