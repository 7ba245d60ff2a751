package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

type ShiftManager struct {
	backend store.ShiftWriter
	local   ShiftStore
	log     zerolog.Logger
}

func NewShiftManager(backend store.ShiftWriter, local ShiftStore, logger zerolog.Logger) *ShiftManager {
	return &ShiftManager{
		backend: backend,
		local:   local,
		log:     logger.With().Str("component", "shifts").Logger(),
	}
}

// Open asks the backend to open a shift for the session's branch. The backend
// is the only judge of whether another shift is already open.
func (m *ShiftManager) Open(ctx context.Context, sess Session, openingCash int64) (*domain.Shift, error) {
	const op = "open shift"
	if openingCash < 0 {
		return nil, domain.Validation(op, "opening_cash", "opening_cash must not be negative")
	}
	if strings.TrimSpace(sess.BranchID) == "" {
		return nil, domain.Validation(op, "branch_id", "session has no branch")
	}

	shift, err := m.backend.OpenShift(ctx, domain.ShiftOpenRequest{
		BranchID:    sess.BranchID,
		CashierID:   sess.CashierID,
		OpeningCash: openingCash,
	})
	if err != nil {
		return nil, err
	}
	m.remember(ctx, *shift)
	return shift, nil
}

// Close reconciles the drawer and closes the shift. Any failure leaves the
// shift open; the caller retries the whole close.
func (m *ShiftManager) Close(ctx context.Context, sess Session, shiftID string, actualCash int64, notes string) (*domain.Shift, error) {
	const op = "close shift"
	if shiftID == "" {
		shiftID = sess.ShiftID
	}
	if known, err := m.local.LoadShift(ctx, shiftID); err == nil && known.Status != domain.ShiftStatusOpen {
		return nil, domain.State(op, "shift %s is %s", shiftID, known.Status)
	}
	if actualCash < 0 {
		return nil, domain.Validation(op, "actual_cash", "actual_cash must not be negative")
	}

	summary, err := m.backend.ShiftSummary(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if summary.Shift.Status != domain.ShiftStatusOpen {
		m.remember(ctx, summary.Shift)
		return nil, domain.State(op, "shift %s is %s", shiftID, summary.Shift.Status)
	}
	figures := domain.ComputeClose(summary.Shift.OpeningCash, summary.CashSales, actualCash)
	if err := domain.CheckVarianceNotes(op, figures.Variance, notes); err != nil {
		return nil, err
	}

	closed, err := m.backend.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:       shiftID,
		ActualCash:    actualCash,
		VarianceNotes: strings.TrimSpace(notes),
	})
	if err != nil {
		return nil, err
	}
	m.remember(ctx, *closed)
	m.log.Info().
		Str("shift_id", closed.ID).
		Int64("expected_cash", figures.ExpectedCash).
		Int64("variance", figures.Variance).
		Str("variance_level", figures.VarianceLevel).
		Msg("shift closed")
	return closed, nil
}

// Resume finds the branch's open shift. The backend answer wins; when the
// backend cannot be reached the locally known open shift is used. When the
// backend has no open shift, shifts still open locally are re-read so a close
// made elsewhere is not missed.
func (m *ShiftManager) Resume(ctx context.Context, sess Session) (*domain.Shift, error) {
	shift, err := m.backend.GetActiveShift(ctx, sess.BranchID)
	switch {
	case err == nil:
		m.remember(ctx, *shift)
		return shift, nil
	case domain.IsIndeterminate(err):
		m.log.Warn().Err(err).Str("branch_id", sess.BranchID).Msg("resuming from locally known shift")
		return m.local.OpenShiftFor(ctx, sess.BranchID)
	case errors.Is(err, domain.ErrNotFound):
		m.forgetStaleOpen(ctx, sess.BranchID)
		return nil, err
	default:
		return nil, err
	}
}

// Reconcile re-reads a shift from the backend and records its real status
// locally. A shift the backend does not know is recorded as cancelled.
func (m *ShiftManager) Reconcile(ctx context.Context, shiftID string) (*domain.Shift, error) {
	shift, err := m.backend.GetShift(ctx, shiftID)
	if errors.Is(err, domain.ErrNotFound) {
		known, loadErr := m.local.LoadShift(ctx, shiftID)
		if loadErr != nil {
			return nil, err
		}
		known.Status = domain.ShiftStatusCancelled
		m.remember(ctx, *known)
		return known, nil
	}
	if err != nil {
		return nil, err
	}
	m.remember(ctx, *shift)
	return shift, nil
}

func (m *ShiftManager) forgetStaleOpen(ctx context.Context, branchID string) {
	for {
		stale, err := m.local.OpenShiftFor(ctx, branchID)
		if err != nil {
			return
		}
		fresh, err := m.Reconcile(ctx, stale.ID)
		if err != nil {
			m.log.Warn().Err(err).Str("shift_id", stale.ID).Msg("re-read locally open shift")
			return
		}
		if fresh.Status == domain.ShiftStatusOpen {
			return
		}
		m.log.Info().Str("shift_id", fresh.ID).Str("status", fresh.Status).Msg("shift was closed elsewhere")
	}
}

// Known returns the locally known state of a shift. An unknown shift is a
// caller error.
func (m *ShiftManager) Known(ctx context.Context, shiftID string) (*domain.Shift, error) {
	if strings.TrimSpace(shiftID) == "" {
		return nil, domain.Validation("shift lookup", "shift_id", "no shift is bound to the session")
	}
	shift, err := m.local.LoadShift(ctx, shiftID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Validation("shift lookup", "shift_id", "shift %s is not known on this terminal", shiftID)
	}
	return shift, err
}

// RequireOpen fails with a state error when the shift is known but not open.
func (m *ShiftManager) RequireOpen(ctx context.Context, op string, shiftID string) error {
	shift, err := m.Known(ctx, shiftID)
	if err != nil {
		return err
	}
	if shift.Status != domain.ShiftStatusOpen {
		return domain.State(op, "shift %s is %s", shift.ID, shift.Status)
	}
	return nil
}

// CurrentOpen returns the locally known open shift of the branch.
func (m *ShiftManager) CurrentOpen(ctx context.Context, branchID string) (*domain.Shift, error) {
	return m.local.OpenShiftFor(ctx, branchID)
}

func (m *ShiftManager) remember(ctx context.Context, shift domain.Shift) {
	if err := m.local.SaveShift(ctx, shift); err != nil {
		m.log.Warn().Err(err).Str("shift_id", shift.ID).Msg("persist shift locally")
	}
}
