package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/xid"
)

const saleColumns = `id, branch_id, warehouse_id, COALESCE(shift_id, ''), customer_id, customer_name,
	COALESCE(idempotency_key, ''), payment_method, amount_tendered, total, change_amount, status,
	created_at, paid_at, void_reason, voided_at`

var errDuplicateKey = errors.New("idempotency key already recorded")

func (s *Store) CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error) {
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

	var created *domain.Sale
	err := s.withTx(ctx, op, func(tx pgx.Tx) error {
		var existingID string
		err := tx.QueryRow(ctx, `SELECT id FROM sales WHERE idempotency_key = $1`, req.IdempotencyKey).Scan(&existingID)
		if err == nil {
			return errDuplicateKey
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		if err := lockOpenShift(ctx, tx, op, req.ShiftID, req.BranchID); err != nil {
			return err
		}
		if err := requireWarehouse(ctx, tx, op, req.WarehouseID, req.BranchID); err != nil {
			return err
		}
		deltas, err := saleDeltas(ctx, tx, op, req.WarehouseID, req.Lines)
		if err != nil {
			return err
		}
		total := domain.SaleTotal(req.Lines)
		tendered, change, err := domain.Settle(op, req.PaymentMethod, req.AmountTendered, total)
		if err != nil {
			return err
		}

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
		if err := insertSale(ctx, tx, sale); err != nil {
			if isUniqueViolation(err, "") {
				return errDuplicateKey
			}
			return err
		}
		if err := applyDeltas(ctx, tx, deltas); err != nil {
			return err
		}
		created = sale
		return nil
	})
	if err != nil {
		// A concurrent request with the same key may have won the race.
		if errors.Is(err, errDuplicateKey) || domain.KindOf(err) == domain.KindConflict {
			if existing, lookupErr := s.FindSaleByIdempotency(ctx, req.IdempotencyKey); lookupErr == nil {
				existing.Duplicate = true
				return existing, nil
			}
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	const op = "find sale"
	sale, err := scanSale(s.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound(op, "no sale for idempotency key %s", key)
	}
	if err != nil {
		return nil, translate(op, err)
	}
	if sale.Lines, err = saleLines(ctx, s.pool, sale.ID); err != nil {
		return nil, translate(op, err)
	}
	return sale, nil
}

func (s *Store) PrepareOrder(ctx context.Context, order domain.Sale) (*domain.Sale, error) {
	const op = "prepare order"
	if err := domain.ValidateSaleLines(op, order.Lines); err != nil {
		return nil, err
	}
	if order.ID == "" {
		order.ID = xid.New("order")
	}
	order.Lines = append([]domain.SaleLine(nil), order.Lines...)
	order.Total = domain.SaleTotal(order.Lines)
	order.Status = domain.SaleStatusPrepared
	order.ShiftID = ""
	order.PaymentMethod = ""
	order.IdempotencyKey = ""
	order.CreatedAt = time.Now().UTC()
	order.PaidAt = nil

	err := s.withTx(ctx, op, func(tx pgx.Tx) error {
		if err := requireWarehouse(ctx, tx, op, order.WarehouseID, order.BranchID); err != nil {
			return err
		}
		return insertSale(ctx, tx, &order)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) InvoicePreparedOrder(ctx context.Context, req domain.InvoiceRequest) (*domain.Sale, error) {
	const op = "invoice prepared order"
	if !domain.IsSupportedPaymentMethod(req.PaymentMethod) {
		return nil, domain.Validation(op, "payment_method", "unsupported payment method %q", req.PaymentMethod)
	}

	var invoiced *domain.Sale
	err := s.withTx(ctx, op, func(tx pgx.Tx) error {
		order, err := lockSale(ctx, tx, op, req.OrderID)
		if err != nil {
			return err
		}
		if order.Status != domain.SaleStatusPrepared {
			return domain.State(op, "order %s is %s", order.ID, order.Status)
		}
		if err := lockOpenShift(ctx, tx, op, req.ShiftID, order.BranchID); err != nil {
			return err
		}
		deltas, err := saleDeltas(ctx, tx, op, order.WarehouseID, order.Lines)
		if err != nil {
			return err
		}
		tendered, change, err := domain.Settle(op, req.PaymentMethod, req.AmountTendered, order.Total)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE sales
			SET shift_id = $2, payment_method = $3, amount_tendered = $4, change_amount = $5, status = $6, paid_at = $7
			WHERE id = $1
		`, order.ID, req.ShiftID, req.PaymentMethod, tendered, change, domain.SaleStatusPaid, now)
		if err != nil {
			return err
		}
		if err := applyDeltas(ctx, tx, deltas); err != nil {
			return err
		}

		order.ShiftID = req.ShiftID
		order.PaymentMethod = req.PaymentMethod
		order.AmountTendered = tendered
		order.Change = change
		order.Status = domain.SaleStatusPaid
		order.PaidAt = &now
		invoiced = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoiced, nil
}

func (s *Store) VoidSale(ctx context.Context, req domain.VoidSaleRequest) (*domain.Sale, error) {
	const op = "void sale"

	var voided *domain.Sale
	err := s.withTx(ctx, op, func(tx pgx.Tx) error {
		sale, err := lockSale(ctx, tx, op, req.SaleID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusPaid {
			return domain.State(op, "sale %s is %s", sale.ID, sale.Status)
		}
		if err := lockOpenShift(ctx, tx, op, sale.ShiftID, ""); err != nil {
			return err
		}

		restock := make([]domain.StockDelta, 0, len(sale.Lines))
		for _, line := range sale.Lines {
			restock = append(restock, domain.StockDelta{WarehouseID: sale.WarehouseID, ProductID: line.ProductID, Quantity: line.Quantity})
		}
		if err := applyDeltas(ctx, tx, restock); err != nil {
			return err
		}

		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE sales SET status = $2, void_reason = $3, voided_at = $4 WHERE id = $1
		`, sale.ID, domain.SaleStatusVoid, req.Reason, now)
		if err != nil {
			return err
		}
		sale.Status = domain.SaleStatusVoid
		sale.VoidReason = req.Reason
		sale.VoidedAt = &now
		voided = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return voided, nil
}

func insertSale(ctx context.Context, tx pgx.Tx, sale *domain.Sale) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sales (
			id, branch_id, warehouse_id, shift_id, customer_id, customer_name, idempotency_key,
			payment_method, amount_tendered, total, change_amount, status, created_at, paid_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.BranchID, sale.WarehouseID, nullIfEmpty(sale.ShiftID), sale.CustomerID, sale.CustomerName,
		nullIfEmpty(sale.IdempotencyKey), sale.PaymentMethod, sale.AmountTendered, sale.Total, sale.Change,
		sale.Status, sale.CreatedAt, sale.PaidAt)
	if err != nil {
		return err
	}
	for i, line := range sale.Lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, product_id, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, i+1, line.ProductID, line.Quantity, line.UnitPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

// saleDeltas checks the products are sellable and locks their stock rows.
func saleDeltas(ctx context.Context, tx pgx.Tx, op string, warehouseID string, lines []domain.SaleLine) ([]domain.StockDelta, error) {
	quantities := domain.CumulativeQuantities(lines)
	productIDs := make([]string, 0, len(quantities))
	for productID := range quantities {
		productIDs = append(productIDs, productID)
	}

	rows, err := tx.Query(ctx, `SELECT id FROM products WHERE active = true AND id = ANY($1)`, productIDs)
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool, len(productIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		active[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deltas := make([]domain.StockDelta, 0, len(lines))
	for _, line := range lines {
		if !active[line.ProductID] {
			return nil, domain.Validation(op, "product_id", "product %s unavailable", line.ProductID)
		}
		deltas = append(deltas, domain.StockDelta{WarehouseID: warehouseID, ProductID: line.ProductID, Quantity: -line.Quantity})
	}

	balances, err := lockStock(ctx, tx, deltas)
	if err != nil {
		return nil, err
	}
	if err := checkAvailable(op, balances, deltas); err != nil {
		return nil, err
	}
	return deltas, nil
}

func lockSale(ctx context.Context, tx pgx.Tx, op string, id string) (*domain.Sale, error) {
	sale, err := scanSale(tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound(op, "sale %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if sale.Lines, err = saleLines(ctx, tx, sale.ID); err != nil {
		return nil, err
	}
	return sale, nil
}

func saleLines(ctx context.Context, q querier, saleID string) ([]domain.SaleLine, error) {
	rows, err := q.Query(ctx, `
		SELECT product_id, quantity, unit_price FROM sale_lines WHERE sale_id = $1 ORDER BY line_no
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanSale(row pgx.Row) (*domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.BranchID, &sale.WarehouseID, &sale.ShiftID, &sale.CustomerID, &sale.CustomerName,
		&sale.IdempotencyKey, &sale.PaymentMethod, &sale.AmountTendered, &sale.Total, &sale.Change, &sale.Status,
		&sale.CreatedAt, &sale.PaidAt, &sale.VoidReason, &sale.VoidedAt)
	if err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}
