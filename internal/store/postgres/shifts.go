package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/xid"
)

const shiftColumns = `id, branch_id, cashier_id, status, opened_at, opening_cash, closed_at, closing_cash,
	expected_cash, variance, variance_percent, variance_level, variance_notes, breakdown`

func (s *Store) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (*domain.Shift, error) {
	const op = "open shift"
	if strings.TrimSpace(req.BranchID) == "" {
		return nil, domain.Validation(op, "branch_id", "branch_id is required")
	}
	if req.OpeningCash < 0 {
		return nil, domain.Validation(op, "opening_cash", "opening_cash must not be negative")
	}

	shift := domain.Shift{
		ID:          xid.New("shift"),
		BranchID:    req.BranchID,
		CashierID:   req.CashierID,
		Status:      domain.ShiftStatusOpen,
		OpenedAt:    time.Now().UTC(),
		OpeningCash: req.OpeningCash,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shifts (id, branch_id, cashier_id, status, opened_at, opening_cash)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, shift.ID, shift.BranchID, shift.CashierID, shift.Status, shift.OpenedAt, shift.OpeningCash)
	if err != nil {
		if isUniqueViolation(err, "shifts_one_open_per_branch") {
			return nil, domain.Conflict(op, "branch %s already has an open shift", req.BranchID)
		}
		return nil, translate(op, err)
	}
	return &shift, nil
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	shift, err := scanShift(s.pool.QueryRow(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("get shift", "shift %s not found", id)
	}
	if err != nil {
		return nil, translate("get shift", err)
	}
	return shift, nil
}

func (s *Store) GetActiveShift(ctx context.Context, branchID string) (*domain.Shift, error) {
	shift, err := scanShift(s.pool.QueryRow(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE branch_id = $1 AND status = 'open'
	`, branchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("get active shift", "branch %s has no open shift", branchID)
	}
	if err != nil {
		return nil, translate("get active shift", err)
	}
	return shift, nil
}

func (s *Store) ShiftSummary(ctx context.Context, id string) (*domain.ShiftSummary, error) {
	const op = "shift summary"
	shift, err := s.GetShift(ctx, id)
	if err != nil {
		return nil, err
	}
	sales, err := shiftSales(ctx, s.pool, id)
	if err != nil {
		return nil, translate(op, err)
	}
	cashSales, breakdown := domain.SummarizePayments(sales)
	return &domain.ShiftSummary{
		Shift:        *shift,
		CashSales:    cashSales,
		ExpectedCash: shift.OpeningCash + cashSales,
		Breakdown:    breakdown,
	}, nil
}

func (s *Store) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (*domain.Shift, error) {
	const op = "close shift"
	if req.ActualCash < 0 {
		return nil, domain.Validation(op, "actual_cash", "actual_cash must not be negative")
	}

	var closed *domain.Shift
	err := s.withTx(ctx, op, func(tx pgx.Tx) error {
		shift, err := scanShift(tx.QueryRow(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1 FOR UPDATE`, req.ShiftID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NotFound(op, "shift %s not found", req.ShiftID)
		}
		if err != nil {
			return err
		}
		if shift.Status != domain.ShiftStatusOpen {
			return domain.State(op, "shift %s is %s", shift.ID, shift.Status)
		}

		sales, err := shiftSales(ctx, tx, shift.ID)
		if err != nil {
			return err
		}
		cashSales, breakdown := domain.SummarizePayments(sales)
		figures := domain.ComputeClose(shift.OpeningCash, cashSales, req.ActualCash)
		if err := domain.CheckVarianceNotes(op, figures.Variance, req.VarianceNotes); err != nil {
			return err
		}
		rawBreakdown, err := json.Marshal(breakdown)
		if err != nil {
			return err
		}

		closedAt := time.Now().UTC()
		notes := strings.TrimSpace(req.VarianceNotes)
		_, err = tx.Exec(ctx, `
			UPDATE shifts
			SET status = $2, closed_at = $3, closing_cash = $4, expected_cash = $5, variance = $6,
				variance_percent = $7, variance_level = $8, variance_notes = $9, breakdown = $10
			WHERE id = $1
		`, shift.ID, domain.ShiftStatusClosed, closedAt, req.ActualCash, figures.ExpectedCash, figures.Variance,
			figures.VariancePercent, figures.VarianceLevel, notes, rawBreakdown)
		if err != nil {
			return err
		}

		shift.Status = domain.ShiftStatusClosed
		shift.ClosedAt = &closedAt
		shift.ClosingCash = &req.ActualCash
		shift.ExpectedCash = &figures.ExpectedCash
		shift.Variance = &figures.Variance
		shift.VariancePercent = figures.VariancePercent
		shift.VarianceLevel = figures.VarianceLevel
		shift.VarianceNotes = notes
		shift.Breakdown = breakdown
		closed = shift
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// lockOpenShift takes a share lock on the shift so a concurrent close waits
// for the sale in flight.
func lockOpenShift(ctx context.Context, tx pgx.Tx, op string, shiftID string, branchID string) error {
	var owner, status string
	err := tx.QueryRow(ctx, `SELECT branch_id, status FROM shifts WHERE id = $1 FOR SHARE`, shiftID).Scan(&owner, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFound(op, "shift %s not found", shiftID)
	}
	if err != nil {
		return err
	}
	if status != domain.ShiftStatusOpen {
		return domain.State(op, "shift %s is %s", shiftID, status)
	}
	if branchID != "" && owner != branchID {
		return domain.Validation(op, "shift_id", "shift %s belongs to branch %s", shiftID, owner)
	}
	return nil
}

func shiftSales(ctx context.Context, q querier, shiftID string) ([]domain.Sale, error) {
	rows, err := q.Query(ctx, `SELECT payment_method, status, total FROM sales WHERE shift_id = $1`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.PaymentMethod, &sale.Status, &sale.Total); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func scanShift(row pgx.Row) (*domain.Shift, error) {
	var shift domain.Shift
	var pct decimal.NullDecimal
	var rawBreakdown []byte
	err := row.Scan(&shift.ID, &shift.BranchID, &shift.CashierID, &shift.Status, &shift.OpenedAt, &shift.OpeningCash,
		&shift.ClosedAt, &shift.ClosingCash, &shift.ExpectedCash, &shift.Variance, &pct,
		&shift.VarianceLevel, &shift.VarianceNotes, &rawBreakdown)
	if err != nil {
		return nil, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if shift.ClosedAt != nil {
		closedAt := shift.ClosedAt.UTC()
		shift.ClosedAt = &closedAt
	}
	if pct.Valid {
		shift.VariancePercent = pct.Decimal
	}
	if len(rawBreakdown) > 0 {
		if err := json.Unmarshal(rawBreakdown, &shift.Breakdown); err != nil {
			return nil, err
		}
	}
	return &shift, nil
}
