package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ShiftStatusOpen      = "open"
	ShiftStatusClosed    = "closed"
	ShiftStatusCancelled = "cancelled"
)

const (
	SaleStatusPrepared = "prepared"
	SaleStatusPaid     = "paid"
	SaleStatusVoid     = "void"
	SaleStatusRefunded = "refunded"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
	PaymentQRIS     = "qris"
	PaymentEWallet  = "ewallet"
)

const (
	VarianceBalanced = "balanced"
	VarianceMinor    = "minor"
	VarianceMajor    = "major"
)

type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    int64  `json:"price"`
	ImageURL string `json:"image_url,omitempty"`
	Active   bool   `json:"active"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id,omitempty"`
}

type Shift struct {
	ID              string          `json:"id"`
	BranchID        string          `json:"branch_id"`
	CashierID       string          `json:"cashier_id,omitempty"`
	Status          string          `json:"status"`
	OpenedAt        time.Time       `json:"opened_at"`
	OpeningCash     int64           `json:"opening_cash"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	ClosingCash     *int64          `json:"closing_cash,omitempty"`
	ExpectedCash    *int64          `json:"expected_cash,omitempty"`
	Variance        *int64          `json:"variance,omitempty"`
	VariancePercent decimal.Decimal `json:"variance_percent"`
	VarianceLevel   string          `json:"variance_level,omitempty"`
	VarianceNotes   string          `json:"variance_notes,omitempty"`
	Breakdown       []PaymentTotal  `json:"breakdown,omitempty"`
}

// PaymentTotal is one row of the per-tender breakdown kept on a closed shift.
type PaymentTotal struct {
	Method string `json:"method"`
	Count  int    `json:"count"`
	Amount int64  `json:"amount"`
}

type ShiftSummary struct {
	Shift        Shift          `json:"shift"`
	CashSales    int64          `json:"cash_sales"`
	ExpectedCash int64          `json:"expected_cash"`
	Breakdown    []PaymentTotal `json:"breakdown"`
}

type ShiftOpenRequest struct {
	BranchID    string `json:"branch_id"`
	CashierID   string `json:"cashier_id"`
	OpeningCash int64  `json:"opening_cash"`
}

type ShiftCloseRequest struct {
	ShiftID       string `json:"shift_id"`
	ActualCash    int64  `json:"actual_cash"`
	VarianceNotes string `json:"variance_notes,omitempty"`
}

type SaleLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type Sale struct {
	ID             string     `json:"id"`
	BranchID       string     `json:"branch_id"`
	WarehouseID    string     `json:"warehouse_id"`
	ShiftID        string     `json:"shift_id,omitempty"`
	CustomerID     string     `json:"customer_id,omitempty"`
	CustomerName   string     `json:"customer_name,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	Lines          []SaleLine `json:"lines"`
	PaymentMethod  string     `json:"payment_method,omitempty"`
	AmountTendered int64      `json:"amount_tendered"`
	Total          int64      `json:"total"`
	Change         int64      `json:"change"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	VoidReason     string     `json:"void_reason,omitempty"`
	VoidedAt       *time.Time `json:"voided_at,omitempty"`
	Duplicate      bool       `json:"duplicate,omitempty"`
}

type SaleRequest struct {
	BranchID       string     `json:"branch_id"`
	WarehouseID    string     `json:"warehouse_id"`
	ShiftID        string     `json:"shift_id"`
	CustomerID     string     `json:"customer_id,omitempty"`
	CustomerName   string     `json:"customer_name,omitempty"`
	Lines          []SaleLine `json:"lines"`
	PaymentMethod  string     `json:"payment_method"`
	AmountTendered int64      `json:"amount_tendered"`
	IdempotencyKey string     `json:"idempotency_key"`
}

type InvoiceRequest struct {
	OrderID        string `json:"order_id"`
	ShiftID        string `json:"shift_id"`
	PaymentMethod  string `json:"payment_method"`
	AmountTendered int64  `json:"amount_tendered"`
}

type VoidSaleRequest struct {
	SaleID     string `json:"sale_id"`
	Reason     string `json:"reason,omitempty"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type SaleLookup struct {
	Found bool  `json:"found"`
	Sale  *Sale `json:"sale,omitempty"`
}

type InventoryDocument struct {
	ID              string         `json:"id"`
	BranchID        string         `json:"branch_id"`
	DocType         DocType        `json:"doc_type"`
	Status          DocStatus      `json:"status"`
	DocDate         time.Time      `json:"doc_date"`
	WarehouseFromID string         `json:"warehouse_from_id,omitempty"`
	WarehouseToID   string         `json:"warehouse_to_id,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	Lines           []DocumentLine `json:"lines"`
	PostedDeltas    []StockDelta   `json:"posted_deltas,omitempty"`
	PostedAt        *time.Time     `json:"posted_at,omitempty"`
	VoidedAt        *time.Time     `json:"voided_at,omitempty"`
	VoidReason      string         `json:"void_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

type DocumentLine struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	UnitCost   int64  `json:"unit_cost"`
}

// StockDelta is a signed quantity change recorded when a document is posted.
type StockDelta struct {
	WarehouseID string `json:"warehouse_id"`
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
}

type DocumentCreateRequest struct {
	BranchID        string    `json:"branch_id"`
	DocType         DocType   `json:"doc_type"`
	DocDate         time.Time `json:"doc_date"`
	WarehouseFromID string    `json:"warehouse_from_id,omitempty"`
	WarehouseToID   string    `json:"warehouse_to_id,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

type DocumentLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitCost  int64  `json:"unit_cost"`
}

type DocumentVoidRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CatalogItem struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	ImageURL    string `json:"image_url,omitempty"`
	WarehouseID string `json:"warehouse_id"`
}

type CatalogFilter struct {
	Category string `json:"category,omitempty"`
	Query    string `json:"query,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type StockLevel struct {
	WarehouseID string `json:"warehouse_id"`
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// OfflineCartLine is the cart snapshot stored with a queued offline sale.
type OfflineCartLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Stock     int    `json:"stock"`
	Quantity  int    `json:"quantity"`
}

type OfflineOrderRecord struct {
	ID             string            `json:"id"`
	Cart           []OfflineCartLine `json:"cart"`
	PaymentMethod  string            `json:"payment_method"`
	AmountTendered int64             `json:"amount_tendered"`
	CustomerID     string            `json:"customer_id,omitempty"`
	CustomerName   string            `json:"customer_name,omitempty"`
	Total          int64             `json:"total"`
	OriginShiftID  string            `json:"origin_shift_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Synced         bool              `json:"synced"`
	Attempts       int               `json:"attempts"`
	LastError      string            `json:"last_error,omitempty"`
	LastAttemptAt  *time.Time        `json:"last_attempt_at,omitempty"`
}

type ProductCacheEntry struct {
	ProductID   string    `json:"product_id"`
	Name        string    `json:"name"`
	Price       int64     `json:"price"`
	Stock       int       `json:"stock"`
	Category    string    `json:"category"`
	ImageURL    string    `json:"image_url,omitempty"`
	WarehouseID string    `json:"warehouse_id"`
	CachedAt    time.Time `json:"cached_at"`
}

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentQRIS, PaymentEWallet:
		return true
	default:
		return false
	}
}

// SaleTotal sums quantity times unit price over the lines.
func SaleTotal(lines []SaleLine) int64 {
	total := int64(0)
	for _, line := range lines {
		total += int64(line.Quantity) * line.UnitPrice
	}
	return total
}
