package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

var _ store.Repository = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 30
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (id, name, category, price, image_url, active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, category = EXCLUDED.category, price = EXCLUDED.price,
			image_url = EXCLUDED.image_url, active = EXCLUDED.active, updated_at = now()
	`, p.ID, p.Name, p.Category, p.Price, p.ImageURL, p.Active)
	return translate("upsert product", err)
}

func (s *Store) UpsertWarehouse(ctx context.Context, warehouseID string, branchID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO warehouses (id, branch_id) VALUES ($1,$2)
		ON CONFLICT (id) DO UPDATE SET branch_id = EXCLUDED.branch_id
	`, warehouseID, branchID)
	return translate("upsert warehouse", err)
}

func (s *Store) SetStock(ctx context.Context, warehouseID string, productID string, qty int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stock_levels (warehouse_id, product_id, qty, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (warehouse_id, product_id) DO UPDATE SET qty = EXCLUDED.qty, updated_at = now()
	`, warehouseID, productID, qty)
	return translate("set stock", err)
}

func (s *Store) ListCatalog(ctx context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.CatalogItem, error) {
	const op = "list catalog"
	if _, err := warehouseBranch(ctx, s.pool, warehouseID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "warehouse %s not found", warehouseID)
		}
		return nil, translate(op, err)
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, p.category, p.price, COALESCE(sl.qty, 0), p.image_url
		FROM products p
		LEFT JOIN stock_levels sl ON sl.product_id = p.id AND sl.warehouse_id = $1
		WHERE p.active = true
			AND ($2 = '' OR lower(p.category) = lower($2))
			AND ($3 = '' OR p.name ILIKE '%' || $3 || '%' OR p.id ILIKE '%' || $3 || '%')
		ORDER BY p.category, p.name
		LIMIT $4
	`, warehouseID, strings.TrimSpace(filter.Category), strings.TrimSpace(filter.Query), limit)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	items := make([]domain.CatalogItem, 0, 64)
	for rows.Next() {
		item := domain.CatalogItem{WarehouseID: warehouseID}
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Category, &item.Price, &item.Stock, &item.ImageURL); err != nil {
			return nil, translate(op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(op, err)
	}
	return items, nil
}

func (s *Store) GetStock(ctx context.Context, warehouseID string, productID string) (domain.StockLevel, error) {
	const op = "get stock"
	if _, err := warehouseBranch(ctx, s.pool, warehouseID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StockLevel{}, domain.NotFound(op, "warehouse %s not found", warehouseID)
		}
		return domain.StockLevel{}, translate(op, err)
	}

	level := domain.StockLevel{WarehouseID: warehouseID, ProductID: productID}
	err := s.pool.QueryRow(ctx, `
		SELECT qty FROM stock_levels WHERE warehouse_id = $1 AND product_id = $2
	`, warehouseID, productID).Scan(&level.Quantity)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.StockLevel{}, translate(op, err)
	}
	return level, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return translate("create audit log", err)
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	const op = "list audit logs"
	if limit < 1 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, translate(op, err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(op, err)
	}
	return logs, nil
}

// withTx runs fn in a serializable transaction and commits when fn succeeds.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return translate(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return translate(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return translate(op, err)
	}
	return nil
}

func warehouseBranch(ctx context.Context, q querier, warehouseID string) (string, error) {
	var branchID string
	err := q.QueryRow(ctx, `SELECT branch_id FROM warehouses WHERE id = $1`, warehouseID).Scan(&branchID)
	return branchID, err
}

func requireWarehouse(ctx context.Context, q querier, op string, warehouseID string, branchID string) error {
	owner, err := warehouseBranch(ctx, q, warehouseID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Validation(op, "warehouse_id", "unknown warehouse %q", warehouseID)
	}
	if err != nil {
		return err
	}
	if branchID != "" && owner != branchID {
		return domain.Validation(op, "warehouse_id", "warehouse %s does not belong to branch %s", warehouseID, branchID)
	}
	return nil
}

type stockKey struct {
	warehouseID string
	productID   string
}

// lockStock locks the stock rows touched by deltas and returns their balances.
// Missing rows read as zero.
func lockStock(ctx context.Context, tx pgx.Tx, deltas []domain.StockDelta) (map[stockKey]int, error) {
	byWarehouse := map[string][]string{}
	for _, d := range deltas {
		byWarehouse[d.WarehouseID] = append(byWarehouse[d.WarehouseID], d.ProductID)
	}

	balances := make(map[stockKey]int, len(deltas))
	for warehouseID, productIDs := range byWarehouse {
		rows, err := tx.Query(ctx, `
			SELECT product_id, qty
			FROM stock_levels
			WHERE warehouse_id = $1 AND product_id = ANY($2)
			FOR UPDATE
		`, warehouseID, productIDs)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var productID string
			var qty int
			if err := rows.Scan(&productID, &qty); err != nil {
				rows.Close()
				return nil, err
			}
			balances[stockKey{warehouseID, productID}] = qty
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return balances, nil
}

func checkAvailable(op string, balances map[stockKey]int, deltas []domain.StockDelta) error {
	need := map[stockKey]int{}
	for _, d := range deltas {
		need[stockKey{d.WarehouseID, d.ProductID}] += d.Quantity
	}
	for key, qty := range need {
		if qty < 0 && balances[key]+qty < 0 {
			return domain.Conflict(op, "insufficient stock for %s in %s", key.productID, key.warehouseID)
		}
	}
	return nil
}

func applyDeltas(ctx context.Context, tx pgx.Tx, deltas []domain.StockDelta) error {
	for _, d := range deltas {
		_, err := tx.Exec(ctx, `
			INSERT INTO stock_levels (warehouse_id, product_id, qty, updated_at)
			VALUES ($1,$2,$3,now())
			ON CONFLICT (warehouse_id, product_id)
			DO UPDATE SET qty = stock_levels.qty + EXCLUDED.qty, updated_at = now()
		`, d.WarehouseID, d.ProductID, d.Quantity)
		if err != nil {
			return err
		}
	}
	return nil
}

// translate maps driver errors onto domain kinds. Domain errors pass through.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Timeout(op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &domain.Error{Kind: domain.KindConflict, Op: op, Message: "duplicate " + pgErr.ConstraintName, Err: err}
		case "40001", "40P01":
			return &domain.Error{Kind: domain.KindConflict, Op: op, Message: "concurrent update, retry", Err: err}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
