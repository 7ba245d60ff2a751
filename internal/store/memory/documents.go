package memory

import (
	"context"
	"strings"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/xid"
)

func (s *Store) CreateDocument(_ context.Context, req domain.DocumentCreateRequest) (*domain.InventoryDocument, error) {
	const op = "create document"
	if strings.TrimSpace(req.BranchID) == "" {
		return nil, domain.Validation(op, "branch_id", "branch_id is required")
	}
	if err := domain.ValidateWarehouses(op, req.DocType, req.WarehouseFromID, req.WarehouseToID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, wh := range []string{req.WarehouseFromID, req.WarehouseToID} {
		if wh == "" {
			continue
		}
		if err := s.requireWarehouse(op, wh, req.BranchID); err != nil {
			return nil, err
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
	s.documentsByID[doc.ID] = doc
	return cloneDocument(doc), nil
}

func (s *Store) GetDocument(_ context.Context, id string) (*domain.InventoryDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documentsByID[id]
	if !ok {
		return nil, domain.NotFound("get document", "document %s not found", id)
	}
	return cloneDocument(doc), nil
}

func (s *Store) AddDocumentLine(_ context.Context, documentID string, req domain.DocumentLineRequest) (*domain.InventoryDocument, error) {
	const op = "add document line"
	if err := domain.ValidateDocumentLine(op, req.ProductID, req.Quantity, req.UnitCost); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.editableDocumentLocked(op, documentID)
	if err != nil {
		return nil, err
	}
	if _, ok := s.products[req.ProductID]; !ok {
		return nil, domain.Validation(op, "product_id", "unknown product %s", req.ProductID)
	}
	doc.Lines = append(doc.Lines, domain.DocumentLine{
		ID:         xid.New("line"),
		DocumentID: doc.ID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		UnitCost:   req.UnitCost,
	})
	return cloneDocument(doc), nil
}

func (s *Store) UpdateDocumentLine(_ context.Context, documentID string, lineID string, req domain.DocumentLineRequest) (*domain.InventoryDocument, error) {
	const op = "update document line"
	if err := domain.ValidateDocumentLine(op, req.ProductID, req.Quantity, req.UnitCost); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.editableDocumentLocked(op, documentID)
	if err != nil {
		return nil, err
	}
	if _, ok := s.products[req.ProductID]; !ok {
		return nil, domain.Validation(op, "product_id", "unknown product %s", req.ProductID)
	}
	for i := range doc.Lines {
		if doc.Lines[i].ID != lineID {
			continue
		}
		doc.Lines[i].ProductID = req.ProductID
		doc.Lines[i].Quantity = req.Quantity
		doc.Lines[i].UnitCost = req.UnitCost
		return cloneDocument(doc), nil
	}
	return nil, domain.NotFound(op, "line %s not found on document %s", lineID, documentID)
}

func (s *Store) RemoveDocumentLine(_ context.Context, documentID string, lineID string) (*domain.InventoryDocument, error) {
	const op = "remove document line"

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.editableDocumentLocked(op, documentID)
	if err != nil {
		return nil, err
	}
	for i := range doc.Lines {
		if doc.Lines[i].ID != lineID {
			continue
		}
		doc.Lines = append(doc.Lines[:i], doc.Lines[i+1:]...)
		return cloneDocument(doc), nil
	}
	return nil, domain.NotFound(op, "line %s not found on document %s", lineID, documentID)
}

func (s *Store) PostDocument(_ context.Context, id string) (*domain.InventoryDocument, error) {
	const op = "post document"

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documentsByID[id]
	if !ok {
		return nil, domain.NotFound(op, "document %s not found", id)
	}
	next, err := domain.Transition(doc.Status, domain.EventPost)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckPostable(op, *doc); err != nil {
		return nil, err
	}

	deltas := domain.PostingDeltas(*doc)
	if err := s.checkAvailable(op, deltas); err != nil {
		return nil, err
	}
	s.applyDeltas(deltas)

	now := time.Now().UTC()
	doc.Status = next
	doc.PostedDeltas = deltas
	doc.PostedAt = &now
	return cloneDocument(doc), nil
}

func (s *Store) VoidDocument(_ context.Context, id string, reason string) (*domain.InventoryDocument, error) {
	const op = "void document"

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documentsByID[id]
	if !ok {
		return nil, domain.NotFound(op, "document %s not found", id)
	}
	next, err := domain.Transition(doc.Status, domain.EventVoid)
	if err != nil {
		return nil, err
	}
	if doc.Status == domain.DocPosted {
		s.applyDeltas(domain.InverseDeltas(doc.PostedDeltas))
	}

	now := time.Now().UTC()
	doc.Status = next
	doc.VoidReason = strings.TrimSpace(reason)
	doc.VoidedAt = &now
	return cloneDocument(doc), nil
}

func (s *Store) editableDocumentLocked(op string, id string) (*domain.InventoryDocument, error) {
	doc, ok := s.documentsByID[id]
	if !ok {
		return nil, domain.NotFound(op, "document %s not found", id)
	}
	if _, err := domain.Transition(doc.Status, domain.EventEditLines); err != nil {
		return nil, err
	}
	return doc, nil
}
