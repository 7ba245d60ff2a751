package memory

import (
	"context"
	"strings"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/xid"
)

func (s *Store) OpenShift(_ context.Context, req domain.ShiftOpenRequest) (*domain.Shift, error) {
	const op = "open shift"
	if strings.TrimSpace(req.BranchID) == "" {
		return nil, domain.Validation(op, "branch_id", "branch_id is required")
	}
	if req.OpeningCash < 0 {
		return nil, domain.Validation(op, "opening_cash", "opening_cash must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if activeID, exists := s.activeShiftByBranch[req.BranchID]; exists {
		return nil, domain.Conflict(op, "branch %s already has open shift %s", req.BranchID, activeID)
	}

	shift := domain.Shift{
		ID:          xid.New("shift"),
		BranchID:    req.BranchID,
		CashierID:   req.CashierID,
		Status:      domain.ShiftStatusOpen,
		OpenedAt:    time.Now().UTC(),
		OpeningCash: req.OpeningCash,
	}
	s.shiftsByID[shift.ID] = shift
	s.activeShiftByBranch[shift.BranchID] = shift.ID
	return cloneShift(shift), nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shiftsByID[id]
	if !ok {
		return nil, domain.NotFound("get shift", "shift %s not found", id)
	}
	return cloneShift(shift), nil
}

func (s *Store) GetActiveShift(_ context.Context, branchID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, ok := s.activeShiftByBranch[branchID]
	if !ok {
		return nil, domain.NotFound("get active shift", "branch %s has no open shift", branchID)
	}
	return cloneShift(s.shiftsByID[shiftID]), nil
}

func (s *Store) ShiftSummary(_ context.Context, id string) (*domain.ShiftSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shiftsByID[id]
	if !ok {
		return nil, domain.NotFound("shift summary", "shift %s not found", id)
	}
	cashSales, breakdown := domain.SummarizePayments(s.shiftSalesLocked(id))
	return &domain.ShiftSummary{
		Shift:        *cloneShift(shift),
		CashSales:    cashSales,
		ExpectedCash: shift.OpeningCash + cashSales,
		Breakdown:    breakdown,
	}, nil
}

func (s *Store) CloseShift(_ context.Context, req domain.ShiftCloseRequest) (*domain.Shift, error) {
	const op = "close shift"
	if req.ActualCash < 0 {
		return nil, domain.Validation(op, "actual_cash", "actual_cash must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shiftsByID[req.ShiftID]
	if !ok {
		return nil, domain.NotFound(op, "shift %s not found", req.ShiftID)
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, domain.State(op, "shift %s is %s", shift.ID, shift.Status)
	}

	cashSales, breakdown := domain.SummarizePayments(s.shiftSalesLocked(shift.ID))
	figures := domain.ComputeClose(shift.OpeningCash, cashSales, req.ActualCash)
	if err := domain.CheckVarianceNotes(op, figures.Variance, req.VarianceNotes); err != nil {
		return nil, err
	}

	closedAt := time.Now().UTC()
	shift.Status = domain.ShiftStatusClosed
	shift.ClosedAt = &closedAt
	shift.ClosingCash = int64Ptr(req.ActualCash)
	shift.ExpectedCash = int64Ptr(figures.ExpectedCash)
	shift.Variance = int64Ptr(figures.Variance)
	shift.VariancePercent = figures.VariancePercent
	shift.VarianceLevel = figures.VarianceLevel
	shift.VarianceNotes = strings.TrimSpace(req.VarianceNotes)
	shift.Breakdown = breakdown

	s.shiftsByID[shift.ID] = shift
	delete(s.activeShiftByBranch, shift.BranchID)
	return cloneShift(shift), nil
}

// requireOpenShift must be called with s.mu held.
func (s *Store) requireOpenShift(op string, shiftID string, branchID string) (domain.Shift, error) {
	shift, ok := s.shiftsByID[shiftID]
	if !ok {
		return domain.Shift{}, domain.NotFound(op, "shift %s not found", shiftID)
	}
	if shift.Status != domain.ShiftStatusOpen {
		return domain.Shift{}, domain.State(op, "shift %s is %s", shiftID, shift.Status)
	}
	if branchID != "" && shift.BranchID != branchID {
		return domain.Shift{}, domain.Validation(op, "shift_id", "shift %s belongs to branch %s", shiftID, shift.BranchID)
	}
	return shift, nil
}

func (s *Store) shiftSalesLocked(shiftID string) []domain.Sale {
	sales := make([]domain.Sale, 0, 16)
	for _, sale := range s.salesByID {
		if sale.ShiftID == shiftID {
			sales = append(sales, *sale)
		}
	}
	return sales
}
