package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/domain"
)

type fixture struct {
	store     *Store
	branchID  string
	warehouse string
	productID string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	databaseURL := os.Getenv("TOKOLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TOKOLEDGER_TEST_DATABASE_URL to run postgres integration tests")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	stamp := time.Now().UnixNano()
	f := fixture{
		store:     s,
		branchID:  fmt.Sprintf("branch-it-%d", stamp),
		warehouse: fmt.Sprintf("WH-IT-%d", stamp),
		productID: fmt.Sprintf("SKU-IT-%d", stamp),
	}
	require.NoError(t, s.UpsertWarehouse(ctx, f.warehouse, f.branchID))
	require.NoError(t, s.UpsertProduct(ctx, domain.Product{ID: f.productID, Name: "Produk IT", Category: "snack", Price: 12000, Active: true}))
	require.NoError(t, s.SetStock(ctx, f.warehouse, f.productID, 10))
	return f
}

func TestSaleIdempotencyAndVoidRestock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shift, err := f.store.OpenShift(ctx, domain.ShiftOpenRequest{BranchID: f.branchID, OpeningCash: 50000})
	require.NoError(t, err)
	_, err = f.store.OpenShift(ctx, domain.ShiftOpenRequest{BranchID: f.branchID})
	require.ErrorIs(t, err, domain.ErrConflict)

	req := domain.SaleRequest{
		BranchID:       f.branchID,
		WarehouseID:    f.warehouse,
		ShiftID:        shift.ID,
		Lines:          []domain.SaleLine{{ProductID: f.productID, Quantity: 4, UnitPrice: 12000}},
		PaymentMethod:  domain.PaymentCash,
		AmountTendered: 50000,
		IdempotencyKey: "idem-" + f.productID,
	}
	sale, err := f.store.CreateSale(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(48000), sale.Total)
	assert.Equal(t, int64(2000), sale.Change)

	dup, err := f.store.CreateSale(ctx, req)
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, sale.ID, dup.ID)

	level, err := f.store.GetStock(ctx, f.warehouse, f.productID)
	require.NoError(t, err)
	assert.Equal(t, 6, level.Quantity)

	_, err = f.store.VoidSale(ctx, domain.VoidSaleRequest{SaleID: sale.ID, Reason: "customer cancelled"})
	require.NoError(t, err)
	level, err = f.store.GetStock(ctx, f.warehouse, f.productID)
	require.NoError(t, err)
	assert.Equal(t, 10, level.Quantity)

	closed, err := f.store.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, ActualCash: 50000})
	require.NoError(t, err)
	assert.Equal(t, domain.VarianceBalanced, closed.VarianceLevel)
	assert.True(t, closed.VariancePercent.IsZero())
}

func TestCloseShiftPersistsDecimalVariance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shift, err := f.store.OpenShift(ctx, domain.ShiftOpenRequest{BranchID: f.branchID, OpeningCash: 300000})
	require.NoError(t, err)
	_, err = f.store.CreateSale(ctx, domain.SaleRequest{
		BranchID: f.branchID, WarehouseID: f.warehouse, ShiftID: shift.ID,
		Lines:         []domain.SaleLine{{ProductID: f.productID, Quantity: 4, UnitPrice: 12500}},
		PaymentMethod: domain.PaymentCash, AmountTendered: 50000, IdempotencyKey: "idem-close-" + f.productID,
	})
	require.NoError(t, err)

	_, err = f.store.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, ActualCash: 340000, VarianceNotes: "short"})
	require.NoError(t, err)

	stored, err := f.store.GetShift(ctx, shift.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, stored.Status)
	assert.Equal(t, int64(-10000), *stored.Variance)
	assert.Equal(t, "-2.86", stored.VariancePercent.StringFixed(2))
	assert.Equal(t, domain.VarianceMajor, stored.VarianceLevel)
	require.Len(t, stored.Breakdown, 1)
	assert.Equal(t, int64(50000), stored.Breakdown[0].Amount)
}

func TestDocumentPostAndVoidRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.store.CreateDocument(ctx, domain.DocumentCreateRequest{BranchID: f.branchID, DocType: domain.DocReceipt, WarehouseToID: f.warehouse})
	require.NoError(t, err)
	doc, err = f.store.AddDocumentLine(ctx, doc.ID, domain.DocumentLineRequest{ProductID: f.productID, Quantity: 10, UnitCost: 9000})
	require.NoError(t, err)
	require.Len(t, doc.Lines, 1)

	posted, err := f.store.PostDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocPosted, posted.Status)

	level, err := f.store.GetStock(ctx, f.warehouse, f.productID)
	require.NoError(t, err)
	assert.Equal(t, 20, level.Quantity)

	_, err = f.store.AddDocumentLine(ctx, doc.ID, domain.DocumentLineRequest{ProductID: f.productID, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrState)

	voided, err := f.store.VoidDocument(ctx, doc.ID, "wrong supplier")
	require.NoError(t, err)
	assert.Equal(t, domain.DocVoid, voided.Status)

	level, err = f.store.GetStock(ctx, f.warehouse, f.productID)
	require.NoError(t, err)
	assert.Equal(t, 10, level.Quantity)
}
