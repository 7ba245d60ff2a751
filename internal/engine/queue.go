package engine

import (
	"context"
	"time"

	"tokoledger/backend/internal/domain"
)

// OfflineQueue is the durable list of sales recorded without connectivity.
// A record leaves the queue only after the backend confirmed the sale.
type OfflineQueue struct {
	store QueueStore
	now   func() time.Time
}

func NewOfflineQueue(store QueueStore) *OfflineQueue {
	return &OfflineQueue{store: store, now: time.Now}
}

func (q *OfflineQueue) Enqueue(ctx context.Context, rec domain.OfflineOrderRecord) error {
	return q.store.EnqueueOrder(ctx, rec)
}

// Pending returns unsynced records in insertion order.
func (q *OfflineQueue) Pending(ctx context.Context) ([]domain.OfflineOrderRecord, error) {
	return q.store.PendingOrders(ctx)
}

func (q *OfflineQueue) PendingCount(ctx context.Context) (int, error) {
	return q.store.CountPending(ctx)
}

func (q *OfflineQueue) MarkFailed(ctx context.Context, id string, cause error) error {
	return q.store.MarkOrderFailed(ctx, id, cause.Error(), q.now().UTC())
}

func (q *OfflineQueue) Remove(ctx context.Context, id string) error {
	return q.store.DeleteOrder(ctx, id)
}
