package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/xid"
)

const documentColumns = `id, branch_id, doc_type, status, doc_date, COALESCE(warehouse_from_id, ''),
	COALESCE(warehouse_to_id, ''), notes, posted_deltas, posted_at, voided_at, void_reason, created_at`

func (s *Store) CreateDocument(ctx context.Context, req domain.DocumentCreateRequest) (*domain.InventoryDocument, error) {
	const op = "create document"
	if strings.TrimSpace(req.BranchID) == "" {
		return nil, domain.Validation(op, "branch_id", "branch_id is required")
	}
	if err := domain.ValidateWarehouses(op, req.DocType, req.WarehouseFromID, req.WarehouseToID); err != nil {
		return nil, err
	}
	for _, wh := range []string{req.WarehouseFromID, req.WarehouseToID} {
		if wh == "" {
			continue
		}
		if err := requireWarehouse(ctx, s.pool, op, wh, req.BranchID); err != nil {
			return nil, translate(op, err)
		}
	}

	now := time.Now().UTC()
	docDate := req.DocDate
	if docDate.IsZero() {
		docDate = now
	}
	doc := &domain.InventoryDocument{
		ID:              xid.New("doc"),
		BranchID:        req.BranchID,
		DocType:         req.DocType,
		Status:          domain.DocDraft,
		DocDate:         docDate.UTC(),
		WarehouseFromID: req.WarehouseFromID,
		WarehouseToID:   req.WarehouseToID,
		Notes:           req.Notes,
		Lines:           []domain.DocumentLine{},
		CreatedAt:       now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inventory_documents (id, branch_id, doc_type, status, doc_date, warehouse_from_id, warehouse_to_id, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, doc.ID, doc.BranchID, string(doc.DocType), string(doc.Status), doc.DocDate,
		nullIfEmpty(doc.WarehouseFromID), nullIfEmpty(doc.WarehouseToID), doc.Notes, doc.CreatedAt)
	if err != nil {
		return nil, translate(op, err)
	}
	return doc, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*domain.InventoryDocument, error) {
	const op = "get document"
	doc, err := loadDocument(ctx, s.pool, op, id, false)
	if err != nil {
		return nil, translate(op, err)
	}
	return doc, nil
}

func (s *Store) AddDocumentLine(ctx context.Context, documentID string, req domain.DocumentLineRequest) (*domain.InventoryDocument, error) {
	const op = "add document line"
	if err := domain.ValidateDocumentLine(op, req.ProductID, req.Quantity, req.UnitCost); err != nil {
		return nil, err
	}
	return s.editLines(ctx, op, documentID, func(tx pgx.Tx) error {
		if err := requireProduct(ctx, tx, op, req.ProductID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO document_lines (id, document_id, product_id, quantity, unit_cost)
			VALUES ($1,$2,$3,$4,$5)
		`, xid.New("line"), documentID, req.ProductID, req.Quantity, req.UnitCost)
		return err
	})
}

func (s *Store) UpdateDocumentLine(ctx context.Context, documentID string, lineID string, req domain.DocumentLineRequest) (*domain.InventoryDocument, error) {
	const op = "update document line"
	if err := domain.ValidateDocumentLine(op, req.ProductID, req.Quantity, req.UnitCost); err != nil {
		return nil, err
	}
	return s.editLines(ctx, op, documentID, func(tx pgx.Tx) error {
		if err := requireProduct(ctx, tx, op, req.ProductID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE document_lines SET product_id = $3, quantity = $4, unit_cost = $5
			WHERE id = $1 AND document_id = $2
		`, lineID, documentID, req.ProductID, req.Quantity, req.UnitCost)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.NotFound(op, "line %s not found on document %s", lineID, documentID)
		}
		return nil
	})
}

func (s *Store) RemoveDocumentLine(ctx context.Context, documentID string, lineID string) (*domain.InventoryDocument, error) {
	const op = "remove document line"
	return s.editLines(ctx, op, documentID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM document_lines WHERE id = $1 AND document_id = $2`, lineID, documentID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.NotFound(op, "line %s not found on document %s", lineID, documentID)
		}
		return nil
	})
}

func (s *Store) PostDocument(ctx context.Context, id string) (*domain.InventoryDocument, error) {
	const op = "post document"

	var posted *domain.InventoryDocument
	err := s.withTx(ctx, op, func(tx pgx.Tx) error {
		doc, err := loadDocument(ctx, tx, op, id, true)
		if err != nil {
			return err
		}
		next, err := domain.Transition(doc.Status, domain.EventPost)
		if err != nil {
			return err
		}
		if err := domain.CheckPostable(op, *doc); err != nil {
			return err
		}

		deltas := domain.PostingDeltas(*doc)
		balances, err := lockStock(ctx, tx, deltas)
		if err != nil {
			return err
		}
		if err := checkAvailable(op, balances, deltas); err != nil {
			return err
		}
		if err := applyDeltas(ctx, tx, deltas); err != nil {
			return err
		}

		rawDeltas, err := json.Marshal(deltas)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE inventory_documents SET status = $2, posted_deltas = $3, posted_at = $4 WHERE id = $1
		`, doc.ID, string(next), rawDeltas, now)
		if err != nil {
			return err
		}
		doc.Status = next
		doc.PostedDeltas = deltas
		doc.PostedAt = &now
		posted = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return posted, nil
}

func (s *Store) VoidDocument(ctx context.Context, id string, reason string) (*domain.InventoryDocument, error) {
	const op = "void document"

	var voided *domain.InventoryDocument
	err := s.withTx(ctx, op, func(tx pgx.Tx) error {
		doc, err := loadDocument(ctx, tx, op, id, true)
		if err != nil {
			return err
		}
		next, err := domain.Transition(doc.Status, domain.EventVoid)
		if err != nil {
			return err
		}
		if doc.Status == domain.DocPosted {
			inverse := domain.InverseDeltas(doc.PostedDeltas)
			if _, err := lockStock(ctx, tx, inverse); err != nil {
				return err
			}
			if err := applyDeltas(ctx, tx, inverse); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		reason = strings.TrimSpace(reason)
		_, err = tx.Exec(ctx, `
			UPDATE inventory_documents SET status = $2, void_reason = $3, voided_at = $4 WHERE id = $1
		`, doc.ID, string(next), reason, now)
		if err != nil {
			return err
		}
		doc.Status = next
		doc.VoidReason = reason
		doc.VoidedAt = &now
		voided = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return voided, nil
}

// editLines locks a draft document, applies edit and returns the fresh document.
func (s *Store) editLines(ctx context.Context, op string, documentID string, edit func(tx pgx.Tx) error) (*domain.InventoryDocument, error) {
	var edited *domain.InventoryDocument
	err := s.withTx(ctx, op, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM inventory_documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NotFound(op, "document %s not found", documentID)
		}
		if err != nil {
			return err
		}
		if _, err := domain.Transition(domain.DocStatus(status), domain.EventEditLines); err != nil {
			return err
		}
		if err := edit(tx); err != nil {
			return err
		}
		edited, err = loadDocument(ctx, tx, op, documentID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return edited, nil
}

func loadDocument(ctx context.Context, q querier, op string, id string, forUpdate bool) (*domain.InventoryDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM inventory_documents WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var doc domain.InventoryDocument
	var docType, status string
	var rawDeltas []byte
	err := q.QueryRow(ctx, query, id).Scan(&doc.ID, &doc.BranchID, &docType, &status, &doc.DocDate,
		&doc.WarehouseFromID, &doc.WarehouseToID, &doc.Notes, &rawDeltas, &doc.PostedAt, &doc.VoidedAt,
		&doc.VoidReason, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound(op, "document %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	doc.DocType = domain.DocType(docType)
	doc.Status = domain.DocStatus(status)
	doc.DocDate = doc.DocDate.UTC()
	doc.CreatedAt = doc.CreatedAt.UTC()
	if len(rawDeltas) > 0 {
		if err := json.Unmarshal(rawDeltas, &doc.PostedDeltas); err != nil {
			return nil, err
		}
	}

	rows, err := q.Query(ctx, `
		SELECT id, document_id, product_id, quantity, unit_cost
		FROM document_lines
		WHERE document_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	doc.Lines = make([]domain.DocumentLine, 0, 8)
	for rows.Next() {
		var line domain.DocumentLine
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.ProductID, &line.Quantity, &line.UnitCost); err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func requireProduct(ctx context.Context, q querier, op string, productID string) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.Validation(op, "product_id", "unknown product %s", productID)
	}
	return nil
}
