package store

import (
	"context"
	"time"

	"tokoledger/backend/internal/domain"
)

// ShiftWriter opens and closes cash-register shifts. Implementations enforce
// one open shift per branch and close atomically.
type ShiftWriter interface {
	OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (*domain.Shift, error)
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, branchID string) (*domain.Shift, error)
	ShiftSummary(ctx context.Context, id string) (*domain.ShiftSummary, error)
	CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (*domain.Shift, error)
}

// SaleWriter records sales. CreateSale is atomic across lines, stock and
// payment, and deduplicates on the idempotency key.
type SaleWriter interface {
	CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	InvoicePreparedOrder(ctx context.Context, req domain.InvoiceRequest) (*domain.Sale, error)
	VoidSale(ctx context.Context, req domain.VoidSaleRequest) (*domain.Sale, error)
}

// DocumentWriter drives inventory documents through draft, posted and void.
type DocumentWriter interface {
	CreateDocument(ctx context.Context, req domain.DocumentCreateRequest) (*domain.InventoryDocument, error)
	GetDocument(ctx context.Context, id string) (*domain.InventoryDocument, error)
	AddDocumentLine(ctx context.Context, documentID string, req domain.DocumentLineRequest) (*domain.InventoryDocument, error)
	UpdateDocumentLine(ctx context.Context, documentID string, lineID string, req domain.DocumentLineRequest) (*domain.InventoryDocument, error)
	RemoveDocumentLine(ctx context.Context, documentID string, lineID string) (*domain.InventoryDocument, error)
	PostDocument(ctx context.Context, id string) (*domain.InventoryDocument, error)
	VoidDocument(ctx context.Context, id string, reason string) (*domain.InventoryDocument, error)
}

type CatalogReader interface {
	ListCatalog(ctx context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.CatalogItem, error)
	GetStock(ctx context.Context, warehouseID string, productID string) (domain.StockLevel, error)
}

// Backend is everything a terminal needs from the transactional collaborator.
type Backend interface {
	ShiftWriter
	SaleWriter
	DocumentWriter
	CatalogReader
}

// Repository is the persistence side of the collaborator.
type Repository interface {
	Backend
	PrepareOrder(ctx context.Context, order domain.Sale) (*domain.Sale, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
