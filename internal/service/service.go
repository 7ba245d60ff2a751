package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

var _ store.Backend = (*Service)(nil)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service fronts a Repository with defaults, the audit trail and the catalog
// listing cache.
type Service struct {
	repo       store.Repository
	catalog    cache.CatalogCache
	catalogTTL time.Duration
	log        zerolog.Logger
}

func New(repo store.Repository, catalog cache.CatalogCache, catalogTTL time.Duration, logger zerolog.Logger) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if catalogTTL <= 0 {
		catalogTTL = 20 * time.Second
	}
	return &Service{
		repo:       repo,
		catalog:    catalog,
		catalogTTL: catalogTTL,
		log:        logger.With().Str("component", "service").Logger(),
	}
}

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (*domain.Shift, error) {
	req.BranchID = strings.TrimSpace(req.BranchID)
	req.CashierID = strings.TrimSpace(req.CashierID)
	if req.CashierID == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			req.CashierID = actor.Username
		}
	}

	shift, err := s.repo.OpenShift(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, shift.BranchID, "shift_open", "shift", shift.ID, fmt.Sprintf("opening_cash=%d", shift.OpeningCash))
	return shift, nil
}

func (s *Service) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	return s.repo.GetShift(ctx, id)
}

func (s *Service) GetActiveShift(ctx context.Context, branchID string) (*domain.Shift, error) {
	if strings.TrimSpace(branchID) == "" {
		return nil, domain.Validation("get active shift", "branch_id", "branch_id is required")
	}
	return s.repo.GetActiveShift(ctx, branchID)
}

func (s *Service) ShiftSummary(ctx context.Context, id string) (*domain.ShiftSummary, error) {
	return s.repo.ShiftSummary(ctx, id)
}

func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (*domain.Shift, error) {
	shift, err := s.repo.CloseShift(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, shift.BranchID, "shift_close", "shift", shift.ID,
		fmt.Sprintf("closing_cash=%d,variance=%d,level=%s", req.ActualCash, derefInt64(shift.Variance), shift.VarianceLevel))
	return shift, nil
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))

	sale, err := s.repo.CreateSale(ctx, req)
	if err != nil {
		return nil, err
	}
	if sale.Duplicate {
		s.log.Info().Str("sale_id", sale.ID).Str("idempotency_key", sale.IdempotencyKey).Msg("duplicate sale submission")
		return sale, nil
	}
	s.invalidateCatalog(ctx, sale.WarehouseID)
	s.logAudit(ctx, sale.BranchID, "sale_create", "sale", sale.ID,
		fmt.Sprintf("total=%d,method=%s,shift=%s", sale.Total, sale.PaymentMethod, sale.ShiftID))
	return sale, nil
}

func (s *Service) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.Validation("find sale", "idempotency_key", "idempotency_key is required")
	}
	return s.repo.FindSaleByIdempotency(ctx, key)
}

func (s *Service) PrepareOrder(ctx context.Context, order domain.Sale) (*domain.Sale, error) {
	prepared, err := s.repo.PrepareOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, prepared.BranchID, "order_prepare", "sale", prepared.ID, fmt.Sprintf("total=%d", prepared.Total))
	return prepared, nil
}

func (s *Service) InvoicePreparedOrder(ctx context.Context, req domain.InvoiceRequest) (*domain.Sale, error) {
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))

	sale, err := s.repo.InvoicePreparedOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	s.invalidateCatalog(ctx, sale.WarehouseID)
	s.logAudit(ctx, sale.BranchID, "order_invoice", "sale", sale.ID,
		fmt.Sprintf("total=%d,method=%s,shift=%s", sale.Total, sale.PaymentMethod, sale.ShiftID))
	return sale, nil
}

func (s *Service) VoidSale(ctx context.Context, req domain.VoidSaleRequest) (*domain.Sale, error) {
	if strings.TrimSpace(req.SaleID) == "" {
		return nil, domain.Validation("void sale", "sale_id", "sale_id is required")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		req.Reason = "unspecified"
	}

	sale, err := s.repo.VoidSale(ctx, req)
	if err != nil {
		return nil, err
	}
	s.invalidateCatalog(ctx, sale.WarehouseID)
	s.logAudit(ctx, sale.BranchID, "sale_void", "sale", sale.ID, req.Reason)
	return sale, nil
}

func (s *Service) CreateDocument(ctx context.Context, req domain.DocumentCreateRequest) (*domain.InventoryDocument, error) {
	req.BranchID = strings.TrimSpace(req.BranchID)
	req.WarehouseFromID = strings.TrimSpace(req.WarehouseFromID)
	req.WarehouseToID = strings.TrimSpace(req.WarehouseToID)

	doc, err := s.repo.CreateDocument(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, doc.BranchID, "document_create", "document", doc.ID, string(doc.DocType))
	return doc, nil
}

func (s *Service) GetDocument(ctx context.Context, id string) (*domain.InventoryDocument, error) {
	return s.repo.GetDocument(ctx, id)
}

func (s *Service) AddDocumentLine(ctx context.Context, documentID string, req domain.DocumentLineRequest) (*domain.InventoryDocument, error) {
	return s.repo.AddDocumentLine(ctx, documentID, req)
}

func (s *Service) UpdateDocumentLine(ctx context.Context, documentID string, lineID string, req domain.DocumentLineRequest) (*domain.InventoryDocument, error) {
	return s.repo.UpdateDocumentLine(ctx, documentID, lineID, req)
}

func (s *Service) RemoveDocumentLine(ctx context.Context, documentID string, lineID string) (*domain.InventoryDocument, error) {
	return s.repo.RemoveDocumentLine(ctx, documentID, lineID)
}

func (s *Service) PostDocument(ctx context.Context, id string) (*domain.InventoryDocument, error) {
	doc, err := s.repo.PostDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidateCatalog(ctx, doc.WarehouseFromID, doc.WarehouseToID)
	s.logAudit(ctx, doc.BranchID, "document_post", "document", doc.ID,
		fmt.Sprintf("type=%s,lines=%d", doc.DocType, len(doc.Lines)))
	return doc, nil
}

func (s *Service) VoidDocument(ctx context.Context, id string, reason string) (*domain.InventoryDocument, error) {
	doc, err := s.repo.VoidDocument(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	s.invalidateCatalog(ctx, doc.WarehouseFromID, doc.WarehouseToID)
	s.logAudit(ctx, doc.BranchID, "document_void", "document", doc.ID, doc.VoidReason)
	return doc, nil
}

func (s *Service) ListCatalog(ctx context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.CatalogItem, error) {
	warehouseID = strings.TrimSpace(warehouseID)
	if warehouseID == "" {
		return nil, domain.Validation("list catalog", "warehouse_id", "warehouse_id is required")
	}
	if filter.Limit < 0 {
		return nil, domain.Validation("list catalog", "limit", "limit must not be negative")
	}

	if items, ok, err := s.catalog.Get(ctx, warehouseID, filter); err != nil {
		s.log.Warn().Err(err).Str("warehouse_id", warehouseID).Msg("catalog cache read failed")
	} else if ok {
		return items, nil
	}

	items, err := s.repo.ListCatalog(ctx, warehouseID, filter)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.Set(ctx, warehouseID, filter, items, s.catalogTTL); err != nil {
		s.log.Warn().Err(err).Str("warehouse_id", warehouseID).Msg("catalog cache write failed")
	}
	return items, nil
}

func (s *Service) GetStock(ctx context.Context, warehouseID string, productID string) (domain.StockLevel, error) {
	if strings.TrimSpace(productID) == "" {
		return domain.StockLevel{}, domain.Validation("get stock", "product_id", "product_id is required")
	}
	return s.repo.GetStock(ctx, warehouseID, productID)
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, domain.Forbidden("list audit logs", "admin role required")
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, branchID, time.Time{}, time.Now().UTC().Add(time.Minute), limit)
}

func (s *Service) invalidateCatalog(ctx context.Context, warehouseIDs ...string) {
	for _, warehouseID := range warehouseIDs {
		if warehouseID == "" {
			continue
		}
		if err := s.catalog.Invalidate(ctx, warehouseID); err != nil {
			s.log.Warn().Err(err).Str("warehouse_id", warehouseID).Msg("catalog cache invalidation failed")
		}
	}
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	// The audit write must not inherit a cancelled request context.
	auditCtx := context.WithoutCancel(ctx)
	if err := s.repo.CreateAuditLog(auditCtx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
