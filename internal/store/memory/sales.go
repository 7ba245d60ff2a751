package memory

import (
	"context"
	"strings"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/xid"
)

func (s *Store) CreateSale(_ context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	const op = "create sale"
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, domain.Validation(op, "idempotency_key", "idempotency_key is required")
	}
	if err := domain.ValidateSaleLines(op, req.Lines); err != nil {
		return nil, err
	}
	if !domain.IsSupportedPaymentMethod(req.PaymentMethod) {
		return nil, domain.Validation(op, "payment_method", "unsupported payment method %q", req.PaymentMethod)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.salesByIdem[req.IdempotencyKey]; ok {
		dup := cloneSale(existing)
		dup.Duplicate = true
		return dup, nil
	}

	if _, err := s.requireOpenShift(op, req.ShiftID, req.BranchID); err != nil {
		return nil, err
	}
	if err := s.requireWarehouse(op, req.WarehouseID, req.BranchID); err != nil {
		return nil, err
	}

	deltas, err := s.saleDeltasLocked(op, req.WarehouseID, req.Lines)
	if err != nil {
		return nil, err
	}
	total := domain.SaleTotal(req.Lines)
	tendered, change, err := domain.Settle(op, req.PaymentMethod, req.AmountTendered, total)
	if err != nil {
		return nil, err
	}

	s.applyDeltas(deltas)

	now := time.Now().UTC()
	sale := &domain.Sale{
		ID:             xid.New("sale"),
		BranchID:       req.BranchID,
		WarehouseID:    req.WarehouseID,
		ShiftID:        req.ShiftID,
		CustomerID:     req.CustomerID,
		CustomerName:   req.CustomerName,
		IdempotencyKey: req.IdempotencyKey,
		Lines:          append([]domain.SaleLine(nil), req.Lines...),
		PaymentMethod:  req.PaymentMethod,
		AmountTendered: tendered,
		Total:          total,
		Change:         change,
		Status:         domain.SaleStatusPaid,
		CreatedAt:      now,
		PaidAt:         &now,
	}
	s.salesByID[sale.ID] = sale
	s.salesByIdem[sale.IdempotencyKey] = sale
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByIdem[key]
	if !ok {
		return nil, domain.NotFound("find sale", "no sale for idempotency key %s", key)
	}
	return cloneSale(sale), nil
}

// PrepareOrder stores a confirmed but unpaid order, as placed by the prepare
// workflow, so it can later be invoiced against a shift.
func (s *Store) PrepareOrder(_ context.Context, order domain.Sale) (*domain.Sale, error) {
	const op = "prepare order"
	if err := domain.ValidateSaleLines(op, order.Lines); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireWarehouse(op, order.WarehouseID, order.BranchID); err != nil {
		return nil, err
	}
	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if _, exists := s.salesByID[order.ID]; exists {
		return nil, domain.Conflict(op, "order %s already exists", order.ID)
	}
	order.Lines = append([]domain.SaleLine(nil), order.Lines...)
	order.Total = domain.SaleTotal(order.Lines)
	order.Status = domain.SaleStatusPrepared
	order.ShiftID = ""
	order.PaymentMethod = ""
	order.CreatedAt = time.Now().UTC()
	order.PaidAt = nil

	stored := cloneSale(&order)
	s.salesByID[stored.ID] = stored
	return cloneSale(stored), nil
}

func (s *Store) InvoicePreparedOrder(_ context.Context, req domain.InvoiceRequest) (*domain.Sale, error) {
	const op = "invoice prepared order"
	if !domain.IsSupportedPaymentMethod(req.PaymentMethod) {
		return nil, domain.Validation(op, "payment_method", "unsupported payment method %q", req.PaymentMethod)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.salesByID[req.OrderID]
	if !ok {
		return nil, domain.NotFound(op, "order %s not found", req.OrderID)
	}
	if order.Status != domain.SaleStatusPrepared {
		return nil, domain.State(op, "order %s is %s", order.ID, order.Status)
	}
	if _, err := s.requireOpenShift(op, req.ShiftID, order.BranchID); err != nil {
		return nil, err
	}

	deltas, err := s.saleDeltasLocked(op, order.WarehouseID, order.Lines)
	if err != nil {
		return nil, err
	}
	tendered, change, err := domain.Settle(op, req.PaymentMethod, req.AmountTendered, order.Total)
	if err != nil {
		return nil, err
	}

	s.applyDeltas(deltas)

	now := time.Now().UTC()
	order.ShiftID = req.ShiftID
	order.PaymentMethod = req.PaymentMethod
	order.AmountTendered = tendered
	order.Change = change
	order.Status = domain.SaleStatusPaid
	order.PaidAt = &now
	return cloneSale(order), nil
}

func (s *Store) VoidSale(_ context.Context, req domain.VoidSaleRequest) (*domain.Sale, error) {
	const op = "void sale"

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[req.SaleID]
	if !ok {
		return nil, domain.NotFound(op, "sale %s not found", req.SaleID)
	}
	if sale.Status != domain.SaleStatusPaid {
		return nil, domain.State(op, "sale %s is %s", sale.ID, sale.Status)
	}
	if _, err := s.requireOpenShift(op, sale.ShiftID, ""); err != nil {
		return nil, err
	}

	restock := make([]domain.StockDelta, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		restock = append(restock, domain.StockDelta{WarehouseID: sale.WarehouseID, ProductID: line.ProductID, Quantity: line.Quantity})
	}
	s.applyDeltas(restock)

	now := time.Now().UTC()
	sale.Status = domain.SaleStatusVoid
	sale.VoidReason = req.Reason
	sale.VoidedAt = &now
	return cloneSale(sale), nil
}

// requireWarehouse must be called with s.mu held.
func (s *Store) requireWarehouse(op string, warehouseID string, branchID string) error {
	owner, ok := s.warehouseBranch[warehouseID]
	if !ok {
		return domain.Validation(op, "warehouse_id", "unknown warehouse %q", warehouseID)
	}
	if branchID != "" && owner != branchID {
		return domain.Validation(op, "warehouse_id", "warehouse %s does not belong to branch %s", warehouseID, branchID)
	}
	return nil
}

// saleDeltasLocked resolves products and checks stock for a sale's lines.
func (s *Store) saleDeltasLocked(op string, warehouseID string, lines []domain.SaleLine) ([]domain.StockDelta, error) {
	deltas := make([]domain.StockDelta, 0, len(lines))
	for _, line := range lines {
		product, ok := s.products[line.ProductID]
		if !ok || !product.Active {
			return nil, domain.Validation(op, "product_id", "product %s unavailable", line.ProductID)
		}
		deltas = append(deltas, domain.StockDelta{WarehouseID: warehouseID, ProductID: line.ProductID, Quantity: -line.Quantity})
	}
	if err := s.checkAvailable(op, deltas); err != nil {
		return nil, err
	}
	return deltas, nil
}
