// Package localstore is the terminal's durable state: the offline order
// queue, the product cache and the shifts the terminal knows about. It lives
// in a single sqlite file so it survives a restart.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tokoledger/backend/internal/domain"
)

type Store struct {
	db *gorm.DB
}

type offlineOrderRow struct {
	Seq            uint   `gorm:"primaryKey;autoIncrement"`
	RecordID       string `gorm:"uniqueIndex;size:64;not null"`
	CartJSON       string `gorm:"not null"`
	PaymentMethod  string `gorm:"size:32"`
	AmountTendered int64
	CustomerID     string `gorm:"size:64"`
	CustomerName   string
	Total          int64
	OriginShiftID  string `gorm:"size:64"`
	CreatedAt      time.Time
	Synced         bool `gorm:"index;not null;default:false"`
	Attempts       int  `gorm:"not null;default:0"`
	LastError      string
	LastAttemptAt  *time.Time
}

func (offlineOrderRow) TableName() string { return "offline_orders" }

// productCacheRow holds one product's snapshot per warehouse.
type productCacheRow struct {
	WarehouseID string `gorm:"primaryKey;size:64"`
	ProductID   string `gorm:"primaryKey;size:64"`
	Name        string
	Price       int64
	Stock       int
	Category    string `gorm:"index;size:64"`
	ImageURL    string
	CachedAt    time.Time
}

func (productCacheRow) TableName() string { return "product_cache" }

type localShiftRow struct {
	ShiftID     string `gorm:"primaryKey;size:64"`
	BranchID    string `gorm:"index;size:64"`
	CashierID   string `gorm:"size:64"`
	Status      string `gorm:"size:16"`
	OpeningCash int64
	OpenedAt    time.Time
	ClosedAt    *time.Time
	UpdatedAt   time.Time
}

func (localShiftRow) TableName() string { return "local_shifts" }

// Open opens (creating if needed) the sqlite file at path and migrates it.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create local store directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	// sqlite allows one writer; a single connection keeps writes serialized.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&offlineOrderRow{}, &productCacheRow{}, &localShiftRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) EnqueueOrder(ctx context.Context, rec domain.OfflineOrderRecord) error {
	cart, err := json.Marshal(rec.Cart)
	if err != nil {
		return fmt.Errorf("enqueue order: marshal cart: %w", err)
	}
	row := offlineOrderRow{
		RecordID:       rec.ID,
		CartJSON:       string(cart),
		PaymentMethod:  rec.PaymentMethod,
		AmountTendered: rec.AmountTendered,
		CustomerID:     rec.CustomerID,
		CustomerName:   rec.CustomerName,
		Total:          rec.Total,
		OriginShiftID:  rec.OriginShiftID,
		CreatedAt:      rec.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("enqueue order: %w", err)
	}
	return nil
}

// PendingOrders returns unsynced records in insertion order.
func (s *Store) PendingOrders(ctx context.Context) ([]domain.OfflineOrderRecord, error) {
	var rows []offlineOrderRow
	err := s.db.WithContext(ctx).Where("synced = ?", false).Order("seq ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pending orders: %w", err)
	}

	out := make([]domain.OfflineOrderRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&offlineOrderRow{}).Where("synced = ?", false).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count pending orders: %w", err)
	}
	return int(n), nil
}

func (s *Store) MarkOrderFailed(ctx context.Context, id string, reason string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&offlineOrderRow{}).Where("record_id = ?", id).Updates(map[string]any{
		"attempts":        gorm.Expr("attempts + 1"),
		"last_error":      reason,
		"last_attempt_at": at.UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("mark order failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("mark order failed", "offline order %s not found", id)
	}
	return nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("record_id = ?", id).Delete(&offlineOrderRow{})
	if res.Error != nil {
		return fmt.Errorf("delete order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("delete order", "offline order %s not found", id)
	}
	return nil
}

func (row offlineOrderRow) record() (domain.OfflineOrderRecord, error) {
	var cart []domain.OfflineCartLine
	if err := json.Unmarshal([]byte(row.CartJSON), &cart); err != nil {
		return domain.OfflineOrderRecord{}, fmt.Errorf("decode offline order %s: %w", row.RecordID, err)
	}
	rec := domain.OfflineOrderRecord{
		ID:             row.RecordID,
		Cart:           cart,
		PaymentMethod:  row.PaymentMethod,
		AmountTendered: row.AmountTendered,
		CustomerID:     row.CustomerID,
		CustomerName:   row.CustomerName,
		Total:          row.Total,
		OriginShiftID:  row.OriginShiftID,
		CreatedAt:      row.CreatedAt.UTC(),
		Synced:         row.Synced,
		Attempts:       row.Attempts,
		LastError:      row.LastError,
	}
	if row.LastAttemptAt != nil {
		at := row.LastAttemptAt.UTC()
		rec.LastAttemptAt = &at
	}
	return rec, nil
}

// UpsertProducts writes every entry keyed by warehouse and product id.
// Entries not in the batch are left alone.
func (s *Store) UpsertProducts(ctx context.Context, entries []domain.ProductCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]productCacheRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, productCacheRow{
			ProductID:   e.ProductID,
			Name:        e.Name,
			Price:       e.Price,
			Stock:       e.Stock,
			Category:    e.Category,
			ImageURL:    e.ImageURL,
			WarehouseID: e.WarehouseID,
			CachedAt:    e.CachedAt.UTC(),
		})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "warehouse_id"}, {Name: "product_id"}},
		UpdateAll: true,
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert products: %w", err)
	}
	return nil
}

// ListProducts reads the snapshot of one warehouse, or of all of them when
// warehouseID is empty.
func (s *Store) ListProducts(ctx context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.ProductCacheEntry, error) {
	q := s.db.WithContext(ctx).Model(&productCacheRow{})
	if warehouseID = strings.TrimSpace(warehouseID); warehouseID != "" {
		q = q.Where("warehouse_id = ?", warehouseID)
	}
	if category := strings.ToLower(strings.TrimSpace(filter.Category)); category != "" {
		q = q.Where("LOWER(category) = ?", category)
	}
	if query := strings.ToLower(strings.TrimSpace(filter.Query)); query != "" {
		like := "%" + query + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(product_id) LIKE ?", like, like)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []productCacheRow
	if err := q.Order("category ASC").Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list cached products: %w", err)
	}
	out := make([]domain.ProductCacheEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.ProductCacheEntry{
			ProductID:   row.ProductID,
			Name:        row.Name,
			Price:       row.Price,
			Stock:       row.Stock,
			Category:    row.Category,
			ImageURL:    row.ImageURL,
			WarehouseID: row.WarehouseID,
			CachedAt:    row.CachedAt.UTC(),
		})
	}
	return out, nil
}

// ProductStock returns the cached stock figure of a product in a warehouse,
// and false when it was never cached there.
func (s *Store) ProductStock(ctx context.Context, warehouseID string, productID string) (int, bool, error) {
	var row productCacheRow
	err := s.db.WithContext(ctx).Where("warehouse_id = ? AND product_id = ?", warehouseID, productID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cached stock: %w", err)
	}
	return row.Stock, true, nil
}

func (s *Store) SaveShift(ctx context.Context, shift domain.Shift) error {
	row := localShiftRow{
		ShiftID:     shift.ID,
		BranchID:    shift.BranchID,
		CashierID:   shift.CashierID,
		Status:      shift.Status,
		OpeningCash: shift.OpeningCash,
		OpenedAt:    shift.OpenedAt.UTC(),
		ClosedAt:    shift.ClosedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shift_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save shift: %w", err)
	}
	return nil
}

func (s *Store) LoadShift(ctx context.Context, id string) (*domain.Shift, error) {
	var row localShiftRow
	err := s.db.WithContext(ctx).Where("shift_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound("load shift", "shift %s is not known locally", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load shift: %w", err)
	}
	return row.shift(), nil
}

// OpenShiftFor returns the most recently opened shift of the branch that is
// still open locally.
func (s *Store) OpenShiftFor(ctx context.Context, branchID string) (*domain.Shift, error) {
	var row localShiftRow
	err := s.db.WithContext(ctx).
		Where("branch_id = ? AND status = ?", branchID, domain.ShiftStatusOpen).
		Order("opened_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound("open shift", "branch %s has no locally known open shift", branchID)
	}
	if err != nil {
		return nil, fmt.Errorf("open shift: %w", err)
	}
	return row.shift(), nil
}

func (row localShiftRow) shift() *domain.Shift {
	shift := &domain.Shift{
		ID:          row.ShiftID,
		BranchID:    row.BranchID,
		CashierID:   row.CashierID,
		Status:      row.Status,
		OpeningCash: row.OpeningCash,
		OpenedAt:    row.OpenedAt.UTC(),
	}
	if row.ClosedAt != nil {
		closedAt := row.ClosedAt.UTC()
		shift.ClosedAt = &closedAt
	}
	return shift
}
