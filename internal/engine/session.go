// Package engine holds the terminal's client engines. Every call takes a
// Session value; nothing reads ambient process state.
package engine

import (
	"context"
	"time"

	"tokoledger/backend/internal/domain"
)

// Session identifies who is selling where. It is built once per terminal
// session and passed by value.
type Session struct {
	TenantID    string `json:"tenant_id,omitempty"`
	BranchID    string `json:"branch_id"`
	WarehouseID string `json:"warehouse_id"`
	CashierID   string `json:"cashier_id,omitempty"`
	ShiftID     string `json:"shift_id,omitempty"`
}

// WithShift returns a copy of the session bound to shiftID.
func (s Session) WithShift(shiftID string) Session {
	s.ShiftID = shiftID
	return s
}

type ShiftStore interface {
	SaveShift(ctx context.Context, shift domain.Shift) error
	LoadShift(ctx context.Context, id string) (*domain.Shift, error)
	OpenShiftFor(ctx context.Context, branchID string) (*domain.Shift, error)
}

type ProductStore interface {
	UpsertProducts(ctx context.Context, entries []domain.ProductCacheEntry) error
	ListProducts(ctx context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.ProductCacheEntry, error)
	ProductStock(ctx context.Context, warehouseID string, productID string) (int, bool, error)
}

type QueueStore interface {
	EnqueueOrder(ctx context.Context, rec domain.OfflineOrderRecord) error
	PendingOrders(ctx context.Context) ([]domain.OfflineOrderRecord, error)
	CountPending(ctx context.Context) (int, error)
	MarkOrderFailed(ctx context.Context, id string, reason string, at time.Time) error
	DeleteOrder(ctx context.Context, id string) error
}
