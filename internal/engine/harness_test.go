package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/localstore"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/store/memory"
)

// recordingBackend counts the calls the engines make and lets a test inject
// failures in front of the memory collaborator.
type recordingBackend struct {
	store.Backend

	mu        sync.Mutex
	saleKeys  []string
	saleHook  func(req domain.SaleRequest) error
	commitErr error
	postCalls int
	postErr   error
	listErr   error
	activeErr error
}

func (b *recordingBackend) CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	b.mu.Lock()
	b.saleKeys = append(b.saleKeys, req.IdempotencyKey)
	hook, commitErr := b.saleHook, b.commitErr
	b.mu.Unlock()

	if hook != nil {
		if err := hook(req); err != nil {
			return nil, err
		}
	}
	sale, err := b.Backend.CreateSale(ctx, req)
	if err == nil && commitErr != nil {
		return nil, commitErr
	}
	return sale, err
}

func (b *recordingBackend) PostDocument(ctx context.Context, id string) (*domain.InventoryDocument, error) {
	b.mu.Lock()
	b.postCalls++
	postErr := b.postErr
	b.mu.Unlock()
	if postErr != nil {
		return nil, postErr
	}
	return b.Backend.PostDocument(ctx, id)
}

func (b *recordingBackend) ListCatalog(ctx context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.CatalogItem, error) {
	b.mu.Lock()
	listErr := b.listErr
	b.mu.Unlock()
	if listErr != nil {
		return nil, listErr
	}
	return b.Backend.ListCatalog(ctx, warehouseID, filter)
}

func (b *recordingBackend) GetActiveShift(ctx context.Context, branchID string) (*domain.Shift, error) {
	b.mu.Lock()
	activeErr := b.activeErr
	b.mu.Unlock()
	if activeErr != nil {
		return nil, activeErr
	}
	return b.Backend.GetActiveShift(ctx, branchID)
}

func (b *recordingBackend) sales() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.saleKeys...)
}

func (b *recordingBackend) posts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.postCalls
}

type harness struct {
	repo    *memory.Store
	backend *recordingBackend
	local   *localstore.Store
	conn    *Connectivity
	shifts  *ShiftManager
	catalog *CatalogCache
	queue   *OfflineQueue
	sales   *SaleEngine
	docs    *DocumentEngine
	sync    *SyncEngine
	sess    Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	local, err := localstore.Open(filepath.Join(t.TempDir(), "terminal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	repo := memory.NewSeeded()
	backend := &recordingBackend{Backend: repo}
	log := zerolog.Nop()
	conn := NewConnectivity(true)
	sess := Session{TenantID: "toko-1", BranchID: memory.SeedBranchID, WarehouseID: memory.SeedWarehouseID, CashierID: "kasir-1"}

	shifts := NewShiftManager(backend, local, log)
	catalog := NewCatalogCache(backend, local, conn, log)
	queue := NewOfflineQueue(local)
	sales := NewSaleEngine(backend, shifts, catalog, queue, conn, log)

	return &harness{
		repo:    repo,
		backend: backend,
		local:   local,
		conn:    conn,
		shifts:  shifts,
		catalog: catalog,
		queue:   queue,
		sales:   sales,
		docs:    NewDocumentEngine(backend, log),
		sync:    NewSyncEngine(queue, sales, shifts, conn, sess, log),
		sess:    sess,
	}
}

// openShift opens a shift and returns the session bound to it.
func (h *harness) openShift(t *testing.T, openingCash int64) Session {
	t.Helper()
	shift, err := h.shifts.Open(context.Background(), h.sess, openingCash)
	require.NoError(t, err)
	return h.sess.WithShift(shift.ID)
}

func (h *harness) stock(t *testing.T, warehouseID string, productID string) int {
	t.Helper()
	level, err := h.repo.GetStock(context.Background(), warehouseID, productID)
	require.NoError(t, err)
	return level.Quantity
}

func (h *harness) pending(t *testing.T) []domain.OfflineOrderRecord {
	t.Helper()
	recs, err := h.queue.Pending(context.Background())
	require.NoError(t, err)
	return recs
}

func cashSale(productID string, qty int, price int64) SaleInput {
	return SaleInput{
		Lines:          []CartLine{{ProductID: productID, Quantity: qty, UnitPrice: price}},
		PaymentMethod:  domain.PaymentCash,
		AmountTendered: int64(qty) * price,
	}
}
