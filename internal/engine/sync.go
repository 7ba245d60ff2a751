package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"tokoledger/backend/internal/domain"
)

// ReplayReport summarizes one replay cycle.
type ReplayReport struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// SyncEngine replays the offline queue when connectivity returns. Cycles are
// serialized; a record is never submitted twice concurrently.
type SyncEngine struct {
	mu          sync.Mutex
	queue       *OfflineQueue
	sales       *SaleEngine
	shifts      *ShiftManager
	transitions <-chan bool
	base        Session
	log         zerolog.Logger
}

func NewSyncEngine(queue *OfflineQueue, sales *SaleEngine, shifts *ShiftManager, conn *Connectivity, base Session, logger zerolog.Logger) *SyncEngine {
	return &SyncEngine{
		queue:       queue,
		sales:       sales,
		shifts:      shifts,
		transitions: conn.Subscribe(),
		base:        base,
		log:         logger.With().Str("component", "sync").Logger(),
	}
}

// Run replays on every offline to online transition until ctx is done.
func (s *SyncEngine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online := <-s.transitions:
			if !online {
				continue
			}
			report, err := s.SyncNow(ctx)
			ev := s.log.Info()
			if err != nil {
				ev = s.log.Warn().Err(err)
			}
			ev.Int("attempted", report.Attempted).
				Int("synced", report.Synced).
				Int("failed", report.Failed).
				Int("remaining", report.Remaining).
				Msg("replay cycle finished")
		}
	}
}

// SyncNow runs one replay cycle over the pending records in insertion order,
// bound to the branch's currently open shift.
func (s *SyncEngine) SyncNow(ctx context.Context) (ReplayReport, error) {
	const op = "replay offline sales"
	s.mu.Lock()
	defer s.mu.Unlock()

	var report ReplayReport
	pending, err := s.queue.Pending(ctx)
	if err != nil {
		return report, err
	}
	if len(pending) == 0 {
		return report, nil
	}

	shift, err := s.shifts.CurrentOpen(ctx, s.base.BranchID)
	if err != nil {
		conflict := domain.Conflict(op, "branch %s has no open shift; queued sales need manual reconciliation", s.base.BranchID)
		return s.failRemaining(ctx, pending, conflict, report)
	}
	sess := s.base.WithShift(shift.ID)

	for i, rec := range pending {
		report.Attempted++
		sale, err := s.sales.Submit(ctx, sess, inputFromRecord(rec), rec.ID)
		if err != nil {
			if s.shiftGone(ctx, shift.ID, err) {
				conflict := domain.Conflict(op, "shift %s is no longer open; queued sales need manual reconciliation", shift.ID)
				return s.failRemaining(ctx, pending[i:], conflict, report)
			}
			report.Failed++
			if markErr := s.queue.MarkFailed(ctx, rec.ID, err); markErr != nil {
				return report, markErr
			}
			if domain.IsIndeterminate(err) {
				// The backend may be gone; leave the rest for the next cycle.
				report.Remaining, _ = s.queue.PendingCount(ctx)
				return report, err
			}
			continue
		}
		if err := s.queue.Remove(ctx, rec.ID); err != nil {
			return report, err
		}
		report.Synced++
		s.log.Debug().Str("record_id", rec.ID).Str("sale_id", sale.ID).Bool("duplicate", sale.Duplicate).Msg("offline sale synced")
	}

	remaining, err := s.queue.PendingCount(ctx)
	if err != nil {
		return report, err
	}
	report.Remaining = remaining
	return report, nil
}

// shiftGone reports whether a rejected submission was caused by the bound
// shift having been closed elsewhere. The local record of the shift is
// corrected as a side effect.
func (s *SyncEngine) shiftGone(ctx context.Context, shiftID string, err error) bool {
	switch domain.KindOf(err) {
	case domain.KindState, domain.KindNotFound:
	default:
		return false
	}
	fresh, rerr := s.shifts.Reconcile(ctx, shiftID)
	if rerr != nil {
		s.log.Warn().Err(rerr).Str("shift_id", shiftID).Msg("re-read shift after rejected replay")
		return false
	}
	return fresh.Status != domain.ShiftStatusOpen
}

// failRemaining records conflict on every record in recs and ends the cycle.
func (s *SyncEngine) failRemaining(ctx context.Context, recs []domain.OfflineOrderRecord, conflict error, report ReplayReport) (ReplayReport, error) {
	for _, rec := range recs {
		if err := s.queue.MarkFailed(ctx, rec.ID, conflict); err != nil {
			return report, err
		}
		report.Failed++
	}
	remaining, err := s.queue.PendingCount(ctx)
	if err != nil {
		return report, err
	}
	report.Remaining = remaining
	return report, conflict
}

// PendingCount is advisory; it is what the UI shows as awaiting sync.
func (s *SyncEngine) PendingCount(ctx context.Context) (int, error) {
	return s.queue.PendingCount(ctx)
}
