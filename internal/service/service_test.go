package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, cache.NewMemoryCatalogCache(), time.Minute, zerolog.Nop()), repo
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func TestCreateSaleRequiresOpenShift(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		BranchID:       memory.SeedBranchID,
		WarehouseID:    memory.SeedWarehouseID,
		ShiftID:        "shift-missing",
		Lines:          []domain.SaleLine{{ProductID: "SKU-MIE-01", Quantity: 2, UnitPrice: 3500}},
		PaymentMethod:  "cash",
		AmountTendered: 10000,
		IdempotencyKey: "idem-no-shift",
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateSaleInvalidatesCatalogAndAudits(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminContext()

	shift, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{BranchID: memory.SeedBranchID, OpeningCash: 250000})
	require.NoError(t, err)
	assert.Equal(t, "admin", shift.CashierID)

	filter := domain.CatalogFilter{Query: "mie"}
	before, err := svc.ListCatalog(ctx, memory.SeedWarehouseID, filter)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, 120, before[0].Stock)

	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		BranchID:       memory.SeedBranchID,
		WarehouseID:    memory.SeedWarehouseID,
		ShiftID:        shift.ID,
		Lines:          []domain.SaleLine{{ProductID: "SKU-MIE-01", Quantity: 2, UnitPrice: 3500}},
		PaymentMethod:  " CARD ",
		IdempotencyKey: " idem-card ",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCard, sale.PaymentMethod)
	assert.Equal(t, "idem-card", sale.IdempotencyKey)
	assert.Equal(t, int64(7000), sale.AmountTendered)

	after, err := svc.ListCatalog(ctx, memory.SeedWarehouseID, filter)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, 118, after[0].Stock)

	logs, err := svc.ListAuditLogs(ctx, memory.SeedBranchID, 10)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
		assert.Equal(t, "admin", entry.ActorUsername)
	}
	assert.ElementsMatch(t, []string{"shift_open", "sale_create"}, actions)
}

func TestDuplicateSaleIsNotAuditedTwice(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminContext()

	shift, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{BranchID: memory.SeedBranchID})
	require.NoError(t, err)

	req := domain.SaleRequest{
		BranchID:       memory.SeedBranchID,
		WarehouseID:    memory.SeedWarehouseID,
		ShiftID:        shift.ID,
		Lines:          []domain.SaleLine{{ProductID: "SKU-TEH-01", Quantity: 1, UnitPrice: 9800}},
		PaymentMethod:  domain.PaymentCash,
		AmountTendered: 10000,
		IdempotencyKey: "idem-twice",
	}
	_, err = svc.CreateSale(ctx, req)
	require.NoError(t, err)
	dup, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)

	logs, err := svc.ListAuditLogs(ctx, memory.SeedBranchID, 10)
	require.NoError(t, err)
	count := 0
	for _, entry := range logs {
		if entry.Action == "sale_create" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestVoidSaleDefaultsReasonAndRestocks(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminContext()

	shift, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{BranchID: memory.SeedBranchID})
	require.NoError(t, err)
	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		BranchID:       memory.SeedBranchID,
		WarehouseID:    memory.SeedWarehouseID,
		ShiftID:        shift.ID,
		Lines:          []domain.SaleLine{{ProductID: "SKU-SUSU-01", Quantity: 3, UnitPrice: 18900}},
		PaymentMethod:  domain.PaymentQRIS,
		IdempotencyKey: "idem-void",
	})
	require.NoError(t, err)

	voided, err := svc.VoidSale(ctx, domain.VoidSaleRequest{SaleID: sale.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusVoid, voided.Status)
	assert.Equal(t, "unspecified", voided.VoidReason)

	level, err := repo.GetStock(ctx, memory.SeedWarehouseID, "SKU-SUSU-01")
	require.NoError(t, err)
	assert.Equal(t, 120, level.Quantity)
}

func TestDocumentPostInvalidatesBothWarehouses(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminContext()

	_, err := svc.ListCatalog(ctx, memory.SeedBackWarehouse, domain.CatalogFilter{})
	require.NoError(t, err)

	doc, err := svc.CreateDocument(ctx, domain.DocumentCreateRequest{
		BranchID:        memory.SeedBranchID,
		DocType:         domain.DocTransfer,
		WarehouseFromID: memory.SeedWarehouseID,
		WarehouseToID:   memory.SeedBackWarehouse,
	})
	require.NoError(t, err)
	_, err = svc.AddDocumentLine(ctx, doc.ID, domain.DocumentLineRequest{ProductID: "SKU-GULA-01", Quantity: 5})
	require.NoError(t, err)
	_, err = svc.PostDocument(ctx, doc.ID)
	require.NoError(t, err)

	items, err := svc.ListCatalog(ctx, memory.SeedBackWarehouse, domain.CatalogFilter{Query: "gula"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 45, items[0].Stock)

	all, err := svc.ListCatalog(ctx, memory.SeedBackWarehouse, domain.CatalogFilter{})
	require.NoError(t, err)
	for _, item := range all {
		if item.ProductID == "SKU-GULA-01" {
			assert.Equal(t, 45, item.Stock)
		}
	}
}

func TestListAuditLogsRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "kasir", Role: "cashier"})

	_, err := svc.ListAuditLogs(ctx, memory.SeedBranchID, 10)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestListCatalogRequiresWarehouse(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ListCatalog(context.Background(), " ", domain.CatalogFilter{})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, "warehouse_id", domain.FieldOf(err))
}
