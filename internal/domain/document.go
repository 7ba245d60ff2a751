package domain

import "strings"

type DocType string

const (
	DocReceipt  DocType = "receipt"
	DocIssue    DocType = "issue"
	DocTransfer DocType = "transfer"
)

type DocStatus string

const (
	DocDraft  DocStatus = "draft"
	DocPosted DocStatus = "posted"
	DocVoid   DocStatus = "void"
)

type DocEvent string

const (
	EventEditLines DocEvent = "edit_lines"
	EventPost      DocEvent = "post"
	EventVoid      DocEvent = "void"
)

// Transition is the single place document lifecycle legality is decided.
// Editing lines keeps a draft a draft; posting moves draft to posted; voiding
// is allowed from draft or posted. Nothing leaves void.
func Transition(from DocStatus, event DocEvent) (DocStatus, error) {
	const op = "document transition"
	switch from {
	case DocDraft:
		switch event {
		case EventEditLines:
			return DocDraft, nil
		case EventPost:
			return DocPosted, nil
		case EventVoid:
			return DocVoid, nil
		}
	case DocPosted:
		switch event {
		case EventVoid:
			return DocVoid, nil
		case EventEditLines:
			return from, State(op, "lines of a posted document are immutable")
		case EventPost:
			return from, State(op, "document is already posted")
		}
	case DocVoid:
		switch event {
		case EventEditLines:
			return from, State(op, "lines of a void document are immutable")
		default:
			return from, State(op, "document is void")
		}
	default:
		return from, State(op, "unknown document status %q", from)
	}
	return from, Validation(op, "event", "unknown event %q", event)
}

func ParseDocType(raw string) (DocType, bool) {
	switch DocType(strings.ToLower(strings.TrimSpace(raw))) {
	case DocReceipt:
		return DocReceipt, true
	case DocIssue:
		return DocIssue, true
	case DocTransfer:
		return DocTransfer, true
	default:
		return "", false
	}
}

// ValidateWarehouses enforces the warehouse pair required by each document type.
func ValidateWarehouses(op string, docType DocType, from string, to string) error {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	switch docType {
	case DocReceipt:
		if to == "" {
			return Validation(op, "warehouse_to_id", "receipt requires warehouse_to_id")
		}
	case DocIssue:
		if from == "" {
			return Validation(op, "warehouse_from_id", "issue requires warehouse_from_id")
		}
	case DocTransfer:
		if from == "" {
			return Validation(op, "warehouse_from_id", "transfer requires warehouse_from_id")
		}
		if to == "" {
			return Validation(op, "warehouse_to_id", "transfer requires warehouse_to_id")
		}
		if from == to {
			return Validation(op, "warehouse_to_id", "transfer source and destination must differ")
		}
	default:
		return Validation(op, "doc_type", "unsupported document type %q", docType)
	}
	return nil
}

func ValidateDocumentLine(op string, productID string, quantity int, unitCost int64) error {
	if strings.TrimSpace(productID) == "" {
		return Validation(op, "product_id", "product_id is required")
	}
	if quantity <= 0 {
		return Validation(op, "quantity", "quantity must be greater than zero")
	}
	if unitCost < 0 {
		return Validation(op, "unit_cost", "unit_cost must not be negative")
	}
	return nil
}

// PostingDeltas derives the stock deltas a post applies, one or two per line.
func PostingDeltas(doc InventoryDocument) []StockDelta {
	deltas := make([]StockDelta, 0, len(doc.Lines)*2)
	for _, line := range doc.Lines {
		switch doc.DocType {
		case DocReceipt:
			deltas = append(deltas, StockDelta{WarehouseID: doc.WarehouseToID, ProductID: line.ProductID, Quantity: line.Quantity})
		case DocIssue:
			deltas = append(deltas, StockDelta{WarehouseID: doc.WarehouseFromID, ProductID: line.ProductID, Quantity: -line.Quantity})
		case DocTransfer:
			deltas = append(deltas,
				StockDelta{WarehouseID: doc.WarehouseFromID, ProductID: line.ProductID, Quantity: -line.Quantity},
				StockDelta{WarehouseID: doc.WarehouseToID, ProductID: line.ProductID, Quantity: line.Quantity},
			)
		}
	}
	return deltas
}

// InverseDeltas negates recorded deltas, in reverse order.
func InverseDeltas(deltas []StockDelta) []StockDelta {
	out := make([]StockDelta, 0, len(deltas))
	for i := len(deltas) - 1; i >= 0; i-- {
		d := deltas[i]
		d.Quantity = -d.Quantity
		out = append(out, d)
	}
	return out
}

// CheckPostable verifies a draft can be posted: at least one line and the
// warehouse fields its type needs.
func CheckPostable(op string, doc InventoryDocument) error {
	if err := ValidateWarehouses(op, doc.DocType, doc.WarehouseFromID, doc.WarehouseToID); err != nil {
		return err
	}
	if len(doc.Lines) == 0 {
		return Validation(op, "lines", "document has no lines")
	}
	return nil
}
