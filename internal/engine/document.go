package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

type DocumentInput struct {
	DocType         domain.DocType `json:"doc_type"`
	DocDate         time.Time      `json:"doc_date"`
	WarehouseFromID string         `json:"warehouse_from_id,omitempty"`
	WarehouseToID   string         `json:"warehouse_to_id,omitempty"`
	Notes           string         `json:"notes,omitempty"`
}

type trackedDocument struct {
	doc domain.InventoryDocument
	// unknown is set when a post or void could not be confirmed either way.
	unknown bool
}

// DocumentEngine drives inventory documents against the backend. It keeps the
// last confirmed state of each document it touched so illegal transitions
// fail before any network call.
type DocumentEngine struct {
	backend store.DocumentWriter
	log     zerolog.Logger

	mu    sync.Mutex
	known map[string]*trackedDocument
}

func NewDocumentEngine(backend store.DocumentWriter, logger zerolog.Logger) *DocumentEngine {
	return &DocumentEngine{
		backend: backend,
		log:     logger.With().Str("component", "documents").Logger(),
		known:   make(map[string]*trackedDocument),
	}
}

func (e *DocumentEngine) Create(ctx context.Context, sess Session, in DocumentInput) (*domain.InventoryDocument, error) {
	const op = "create document"
	docType, ok := domain.ParseDocType(string(in.DocType))
	if !ok {
		return nil, domain.Validation(op, "doc_type", "unsupported document type %q", in.DocType)
	}
	from := strings.TrimSpace(in.WarehouseFromID)
	to := strings.TrimSpace(in.WarehouseToID)
	if err := domain.ValidateWarehouses(op, docType, from, to); err != nil {
		return nil, err
	}

	doc, err := e.backend.CreateDocument(ctx, domain.DocumentCreateRequest{
		BranchID:        sess.BranchID,
		DocType:         docType,
		DocDate:         in.DocDate,
		WarehouseFromID: from,
		WarehouseToID:   to,
		Notes:           in.Notes,
	})
	if err != nil {
		return nil, err
	}
	e.remember(doc)
	return doc, nil
}

func (e *DocumentEngine) AddLine(ctx context.Context, documentID string, line domain.DocumentLineRequest) (*domain.InventoryDocument, error) {
	const op = "add document line"
	if err := e.checkEditable(documentID); err != nil {
		return nil, err
	}
	if err := domain.ValidateDocumentLine(op, line.ProductID, line.Quantity, line.UnitCost); err != nil {
		return nil, err
	}
	return e.track(e.backend.AddDocumentLine(ctx, documentID, line))
}

func (e *DocumentEngine) UpdateLine(ctx context.Context, documentID string, lineID string, line domain.DocumentLineRequest) (*domain.InventoryDocument, error) {
	const op = "update document line"
	if err := e.checkEditable(documentID); err != nil {
		return nil, err
	}
	if err := domain.ValidateDocumentLine(op, line.ProductID, line.Quantity, line.UnitCost); err != nil {
		return nil, err
	}
	return e.track(e.backend.UpdateDocumentLine(ctx, documentID, lineID, line))
}

func (e *DocumentEngine) RemoveLine(ctx context.Context, documentID string, lineID string) (*domain.InventoryDocument, error) {
	if err := e.checkEditable(documentID); err != nil {
		return nil, err
	}
	return e.track(e.backend.RemoveDocumentLine(ctx, documentID, lineID))
}

// Post applies the document's stock effect once. A timeout or network error
// leaves the document unknown until Refresh re-reads it; it is never posted
// again blindly.
func (e *DocumentEngine) Post(ctx context.Context, documentID string) (*domain.InventoryDocument, error) {
	const op = "post document"
	if err := e.checkTransition(op, documentID, domain.EventPost); err != nil {
		return nil, err
	}
	if doc, ok := e.Known(documentID); ok {
		if err := domain.CheckPostable(op, *doc); err != nil {
			return nil, err
		}
	}

	doc, err := e.backend.PostDocument(ctx, documentID)
	if err != nil {
		e.markIfIndeterminate(documentID, err)
		return nil, err
	}
	e.remember(doc)
	return doc, nil
}

// Void reverses a posted document or abandons a draft. Same ambiguity rule
// as Post.
func (e *DocumentEngine) Void(ctx context.Context, documentID string, reason string) (*domain.InventoryDocument, error) {
	const op = "void document"
	if err := e.checkTransition(op, documentID, domain.EventVoid); err != nil {
		return nil, err
	}

	doc, err := e.backend.VoidDocument(ctx, documentID, strings.TrimSpace(reason))
	if err != nil {
		e.markIfIndeterminate(documentID, err)
		return nil, err
	}
	e.remember(doc)
	return doc, nil
}

// Refresh re-reads the document from the backend and clears the unknown mark.
func (e *DocumentEngine) Refresh(ctx context.Context, documentID string) (*domain.InventoryDocument, error) {
	doc, err := e.backend.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	e.remember(doc)
	return doc, nil
}

// Known returns the last confirmed copy of a document.
func (e *DocumentEngine) Known(documentID string) (*domain.InventoryDocument, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.known[documentID]
	if !ok {
		return nil, false
	}
	doc := t.doc
	doc.Lines = append([]domain.DocumentLine(nil), t.doc.Lines...)
	return &doc, true
}

// Unknown reports whether the document awaits a Refresh.
func (e *DocumentEngine) Unknown(documentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.known[documentID]
	return ok && t.unknown
}

func (e *DocumentEngine) checkEditable(documentID string) error {
	return e.checkTransition("edit document lines", documentID, domain.EventEditLines)
}

func (e *DocumentEngine) checkTransition(op string, documentID string, event domain.DocEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.known[documentID]
	if !ok {
		return nil
	}
	if t.unknown {
		return domain.State(op, "document %s status is unknown; refresh it first", documentID)
	}
	_, err := domain.Transition(t.doc.Status, event)
	return err
}

func (e *DocumentEngine) markIfIndeterminate(documentID string, err error) {
	if !domain.IsIndeterminate(err) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.known[documentID]
	if !ok {
		t = &trackedDocument{doc: domain.InventoryDocument{ID: documentID}}
		e.known[documentID] = t
	}
	t.unknown = true
	e.log.Warn().Err(err).Str("document_id", documentID).Msg("document status unknown")
}

func (e *DocumentEngine) track(doc *domain.InventoryDocument, err error) (*domain.InventoryDocument, error) {
	if err != nil {
		return nil, err
	}
	e.remember(doc)
	return doc, nil
}

// remember records the confirmed state of doc. A void document accepts no
// further event, so it is dropped instead.
func (e *DocumentEngine) remember(doc *domain.InventoryDocument) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if doc.Status == domain.DocVoid {
		delete(e.known, doc.ID)
		return
	}
	copied := *doc
	copied.Lines = append([]domain.DocumentLine(nil), doc.Lines...)
	e.known[doc.ID] = &trackedDocument{doc: copied}
}
