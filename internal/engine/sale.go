package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

type CartLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type SaleInput struct {
	Lines          []CartLine `json:"lines"`
	PaymentMethod  string     `json:"payment_method"`
	AmountTendered int64      `json:"amount_tendered"`
	CustomerID     string     `json:"customer_id,omitempty"`
	CustomerName   string     `json:"customer_name,omitempty"`
	// OverrideStockCheck skips the cached-stock check so a stale snapshot
	// never blocks a sale outright.
	OverrideStockCheck bool `json:"override_stock_check,omitempty"`
}

// SaleOutcome is either a confirmed sale or a queued offline record.
type SaleOutcome struct {
	Sale     *domain.Sale `json:"sale,omitempty"`
	Queued   bool         `json:"queued"`
	RecordID string       `json:"record_id,omitempty"`
}

type SaleEngine struct {
	backend store.SaleWriter
	shifts  *ShiftManager
	catalog *CatalogCache
	queue   *OfflineQueue
	conn    *Connectivity
	now     func() time.Time
	log     zerolog.Logger
}

func NewSaleEngine(backend store.SaleWriter, shifts *ShiftManager, catalog *CatalogCache, queue *OfflineQueue, conn *Connectivity, logger zerolog.Logger) *SaleEngine {
	return &SaleEngine{
		backend: backend,
		shifts:  shifts,
		catalog: catalog,
		queue:   queue,
		conn:    conn,
		now:     time.Now,
		log:     logger.With().Str("component", "sales").Logger(),
	}
}

// CreateSale checks the cart locally, then either submits it once to the
// backend or, when offline, persists it for later replay without touching the
// network. A failed online submission is never retried here.
func (e *SaleEngine) CreateSale(ctx context.Context, sess Session, in SaleInput) (SaleOutcome, error) {
	const op = "create sale"
	in.PaymentMethod = strings.ToLower(strings.TrimSpace(in.PaymentMethod))
	if err := e.precheck(ctx, op, sess, in); err != nil {
		return SaleOutcome{}, err
	}

	if !e.conn.Online() {
		rec, err := e.enqueue(ctx, sess, in)
		if err != nil {
			return SaleOutcome{}, err
		}
		e.log.Info().Str("record_id", rec.ID).Int64("total", rec.Total).Msg("sale queued offline")
		return SaleOutcome{Queued: true, RecordID: rec.ID}, nil
	}

	sale, err := e.Submit(ctx, sess, in, xid.Key())
	if err != nil {
		return SaleOutcome{}, err
	}
	return SaleOutcome{Sale: sale}, nil
}

// Submit sends one CreateSale call carrying idempotencyKey. It does no local
// checks; replay uses it with the record id as the key.
func (e *SaleEngine) Submit(ctx context.Context, sess Session, in SaleInput, idempotencyKey string) (*domain.Sale, error) {
	sale, err := e.backend.CreateSale(ctx, domain.SaleRequest{
		BranchID:       sess.BranchID,
		WarehouseID:    sess.WarehouseID,
		ShiftID:        sess.ShiftID,
		CustomerID:     in.CustomerID,
		CustomerName:   in.CustomerName,
		Lines:          saleLines(in.Lines),
		PaymentMethod:  strings.ToLower(strings.TrimSpace(in.PaymentMethod)),
		AmountTendered: in.AmountTendered,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		if domain.IsIndeterminate(err) {
			e.log.Warn().Err(err).Str("idempotency_key", idempotencyKey).Msg("sale outcome unknown")
		}
		return nil, err
	}
	return sale, nil
}

// LookupSale resolves an ambiguous submission by its idempotency key.
func (e *SaleEngine) LookupSale(ctx context.Context, idempotencyKey string) (*domain.Sale, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, domain.Validation("lookup sale", "idempotency_key", "idempotency_key is required")
	}
	return e.backend.FindSaleByIdempotency(ctx, idempotencyKey)
}

// CreateInvoiceFromPreparedOrder turns a prepared order into a paid sale
// bound to the session's shift.
func (e *SaleEngine) CreateInvoiceFromPreparedOrder(ctx context.Context, sess Session, orderID string, paymentMethod string, amountTendered int64) (*domain.Sale, error) {
	const op = "invoice prepared order"
	if strings.TrimSpace(orderID) == "" {
		return nil, domain.Validation(op, "order_id", "order_id is required")
	}
	paymentMethod = strings.ToLower(strings.TrimSpace(paymentMethod))
	if !domain.IsSupportedPaymentMethod(paymentMethod) {
		return nil, domain.Validation(op, "payment_method", "unsupported payment method %q", paymentMethod)
	}
	if err := e.shifts.RequireOpen(ctx, op, sess.ShiftID); err != nil {
		return nil, err
	}
	return e.backend.InvoicePreparedOrder(ctx, domain.InvoiceRequest{
		OrderID:        orderID,
		ShiftID:        sess.ShiftID,
		PaymentMethod:  paymentMethod,
		AmountTendered: amountTendered,
	})
}

func (e *SaleEngine) VoidSale(ctx context.Context, sess Session, saleID string, reason string, managerPIN string) (*domain.Sale, error) {
	const op = "void sale"
	if strings.TrimSpace(saleID) == "" {
		return nil, domain.Validation(op, "sale_id", "sale_id is required")
	}
	if sess.ShiftID != "" {
		if err := e.shifts.RequireOpen(ctx, op, sess.ShiftID); err != nil {
			return nil, err
		}
	}
	return e.backend.VoidSale(ctx, domain.VoidSaleRequest{SaleID: saleID, Reason: reason, ManagerPIN: managerPIN})
}

func (e *SaleEngine) precheck(ctx context.Context, op string, sess Session, in SaleInput) error {
	if err := e.shifts.RequireOpen(ctx, op, sess.ShiftID); err != nil {
		return err
	}
	lines := saleLines(in.Lines)
	if err := domain.ValidateSaleLines(op, lines); err != nil {
		return err
	}
	if !domain.IsSupportedPaymentMethod(in.PaymentMethod) {
		return domain.Validation(op, "payment_method", "unsupported payment method %q", in.PaymentMethod)
	}
	if in.PaymentMethod == domain.PaymentCash && in.AmountTendered < domain.SaleTotal(lines) {
		return domain.Validation(op, "amount_tendered", "cash tendered %d is less than total %d", in.AmountTendered, domain.SaleTotal(lines))
	}
	if in.OverrideStockCheck {
		return nil
	}
	for productID, wanted := range domain.CumulativeQuantities(lines) {
		stock, ok, err := e.catalog.StockFor(ctx, sess.WarehouseID, productID)
		if err != nil {
			return err
		}
		if ok && wanted > stock {
			return domain.Validation(op, "quantity", "requested %d of %s but only %d cached in stock", wanted, productID, stock)
		}
	}
	return nil
}

func (e *SaleEngine) enqueue(ctx context.Context, sess Session, in SaleInput) (domain.OfflineOrderRecord, error) {
	cart := make([]domain.OfflineCartLine, 0, len(in.Lines))
	for _, line := range in.Lines {
		stock, _, err := e.catalog.StockFor(ctx, sess.WarehouseID, line.ProductID)
		if err != nil {
			return domain.OfflineOrderRecord{}, err
		}
		cart = append(cart, domain.OfflineCartLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Stock:     stock,
			Quantity:  line.Quantity,
		})
	}

	rec := domain.OfflineOrderRecord{
		ID:             xid.Key(),
		Cart:           cart,
		PaymentMethod:  in.PaymentMethod,
		AmountTendered: in.AmountTendered,
		CustomerID:     in.CustomerID,
		CustomerName:   in.CustomerName,
		Total:          domain.SaleTotal(saleLines(in.Lines)),
		OriginShiftID:  sess.ShiftID,
		CreatedAt:      e.now().UTC(),
	}
	if err := e.queue.Enqueue(ctx, rec); err != nil {
		return domain.OfflineOrderRecord{}, err
	}
	return rec, nil
}

func saleLines(cart []CartLine) []domain.SaleLine {
	lines := make([]domain.SaleLine, 0, len(cart))
	for _, line := range cart {
		lines = append(lines, domain.SaleLine{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return lines
}

// inputFromRecord rebuilds the sale input stored with an offline record.
func inputFromRecord(rec domain.OfflineOrderRecord) SaleInput {
	lines := make([]CartLine, 0, len(rec.Cart))
	for _, line := range rec.Cart {
		lines = append(lines, CartLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return SaleInput{
		Lines:          lines,
		PaymentMethod:  rec.PaymentMethod,
		AmountTendered: rec.AmountTendered,
		CustomerID:     rec.CustomerID,
		CustomerName:   rec.CustomerName,
	}
}
