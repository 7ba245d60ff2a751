package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/service"
	"tokoledger/backend/internal/store/memory"
)

type testTokens struct {
	cashier string
	admin   string
}

func newTestAPI(t *testing.T) (*API, testTokens) {
	t.Helper()
	svc := service.New(memory.NewSeeded(), cache.NoopCatalogCache{}, time.Minute, zerolog.Nop())
	auth := NewAuthManager("test-secret-key-with-enough-length", time.Hour, "123456")

	cashier, _, err := auth.IssueToken(domain.Actor{Username: "kasir-1", Role: roleCashier, BranchID: memory.SeedBranchID})
	require.NoError(t, err)
	admin, _, err := auth.IssueToken(domain.Actor{Username: "admin", Role: roleAdmin})
	require.NoError(t, err)

	return New(svc, auth, "http://localhost:5173", zerolog.Nop()), testTokens{cashier: cashier, admin: admin}
}

func doJSON(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "127.0.0.1:5000"
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out), res.Body.String())
	return out
}

func openTestShift(t *testing.T, api *API, token string, opening int64) domain.Shift {
	t.Helper()
	res := doJSON(t, api, http.MethodPost, "/api/v1/shifts", token, domain.ShiftOpenRequest{BranchID: memory.SeedBranchID, OpeningCash: opening})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	return decodeBody[domain.Shift](t, res)
}

func TestHealthz(t *testing.T) {
	api, _ := newTestAPI(t)
	res := doJSON(t, api, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody[map[string]any](t, res)
	assert.Equal(t, true, body["ok"])
}

func TestSecondOpenShiftIsConflict(t *testing.T) {
	api, tokens := newTestAPI(t)
	openTestShift(t, api, tokens.cashier, 100000)

	res := doJSON(t, api, http.MethodPost, "/api/v1/shifts", tokens.cashier, domain.ShiftOpenRequest{BranchID: memory.SeedBranchID})
	require.Equal(t, http.StatusConflict, res.Code)
	body := decodeBody[errorBody](t, res)
	assert.Equal(t, domain.KindConflict, body.Kind)

	active := doJSON(t, api, http.MethodGet, "/api/v1/shifts/active?branch_id="+memory.SeedBranchID, tokens.cashier, nil)
	require.Equal(t, http.StatusOK, active.Code)
	assert.Equal(t, domain.ShiftStatusOpen, decodeBody[domain.Shift](t, active).Status)
}

func TestSaleCreateDuplicateAndLookup(t *testing.T) {
	api, tokens := newTestAPI(t)
	shift := openTestShift(t, api, tokens.cashier, 100000)

	req := domain.SaleRequest{
		BranchID:       memory.SeedBranchID,
		WarehouseID:    memory.SeedWarehouseID,
		ShiftID:        shift.ID,
		Lines:          []domain.SaleLine{{ProductID: "SKU-TEH-01", Quantity: 2, UnitPrice: 9800}},
		PaymentMethod:  domain.PaymentCash,
		AmountTendered: 20000,
		IdempotencyKey: "idem-http-1",
	}
	first := doJSON(t, api, http.MethodPost, "/api/v1/sales", tokens.cashier, req)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	sale := decodeBody[domain.Sale](t, first)
	assert.Equal(t, int64(19600), sale.Total)
	assert.Equal(t, int64(400), sale.Change)

	second := doJSON(t, api, http.MethodPost, "/api/v1/sales", tokens.cashier, req)
	require.Equal(t, http.StatusOK, second.Code)
	dup := decodeBody[domain.Sale](t, second)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, sale.ID, dup.ID)

	found := doJSON(t, api, http.MethodGet, "/api/v1/sales/idempotency/idem-http-1", tokens.cashier, nil)
	require.Equal(t, http.StatusOK, found.Code)
	lookup := decodeBody[domain.SaleLookup](t, found)
	require.True(t, lookup.Found)
	assert.Equal(t, sale.ID, lookup.Sale.ID)

	missing := doJSON(t, api, http.MethodGet, "/api/v1/sales/idempotency/idem-none", tokens.cashier, nil)
	require.Equal(t, http.StatusOK, missing.Code)
	assert.False(t, decodeBody[domain.SaleLookup](t, missing).Found)

	stock := doJSON(t, api, http.MethodGet, "/api/v1/stock?warehouse_id=WH-MAIN&product_id=SKU-TEH-01", tokens.cashier, nil)
	require.Equal(t, http.StatusOK, stock.Code)
	assert.Equal(t, 118, decodeBody[domain.StockLevel](t, stock).Quantity)
}

func TestSaleValidationErrorCarriesField(t *testing.T) {
	api, tokens := newTestAPI(t)
	shift := openTestShift(t, api, tokens.cashier, 0)

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", tokens.cashier, domain.SaleRequest{
		BranchID:       memory.SeedBranchID,
		WarehouseID:    memory.SeedWarehouseID,
		ShiftID:        shift.ID,
		Lines:          []domain.SaleLine{{ProductID: "SKU-TEH-01", Quantity: 1, UnitPrice: 9800}},
		PaymentMethod:  "barter",
		IdempotencyKey: "idem-http-bad",
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	body := decodeBody[errorBody](t, res)
	assert.Equal(t, domain.KindValidation, body.Kind)
	assert.Equal(t, "payment_method", body.Field)
}

func TestCloseShiftFlow(t *testing.T) {
	api, tokens := newTestAPI(t)
	shift := openTestShift(t, api, tokens.cashier, 50000)

	short := doJSON(t, api, http.MethodPost, "/api/v1/shifts/"+shift.ID+"/close", tokens.cashier, domain.ShiftCloseRequest{ActualCash: 45000})
	require.Equal(t, http.StatusBadRequest, short.Code)
	assert.Equal(t, "variance_notes", decodeBody[errorBody](t, short).Field)

	closed := doJSON(t, api, http.MethodPost, "/api/v1/shifts/"+shift.ID+"/close", tokens.cashier, domain.ShiftCloseRequest{ActualCash: 45000, VarianceNotes: "short"})
	require.Equal(t, http.StatusOK, closed.Code, closed.Body.String())
	result := decodeBody[domain.Shift](t, closed)
	assert.Equal(t, domain.ShiftStatusClosed, result.Status)
	assert.Equal(t, domain.VarianceMajor, result.VarianceLevel)

	again := doJSON(t, api, http.MethodPost, "/api/v1/shifts/"+shift.ID+"/close", tokens.cashier, domain.ShiftCloseRequest{ActualCash: 45000, VarianceNotes: "short"})
	require.Equal(t, http.StatusUnprocessableEntity, again.Code)
}

func TestPrepareAndInvoiceOrder(t *testing.T) {
	api, tokens := newTestAPI(t)
	shift := openTestShift(t, api, tokens.cashier, 50000)

	denied := doJSON(t, api, http.MethodPost, "/api/v1/orders", tokens.cashier, domain.Sale{})
	require.Equal(t, http.StatusForbidden, denied.Code)

	prepared := doJSON(t, api, http.MethodPost, "/api/v1/orders", tokens.admin, domain.Sale{
		BranchID:    memory.SeedBranchID,
		WarehouseID: memory.SeedWarehouseID,
		Lines:       []domain.SaleLine{{ProductID: "SKU-ROTI-01", Quantity: 2, UnitPrice: 17800}},
	})
	require.Equal(t, http.StatusCreated, prepared.Code, prepared.Body.String())
	order := decodeBody[domain.Sale](t, prepared)
	assert.Equal(t, domain.SaleStatusPrepared, order.Status)

	invoiced := doJSON(t, api, http.MethodPost, "/api/v1/orders/"+order.ID+"/invoice", tokens.cashier, domain.InvoiceRequest{
		ShiftID:        shift.ID,
		PaymentMethod:  "cash",
		AmountTendered: 40000,
	})
	require.Equal(t, http.StatusOK, invoiced.Code, invoiced.Body.String())
	sale := decodeBody[domain.Sale](t, invoiced)
	assert.Equal(t, domain.SaleStatusPaid, sale.Status)
	assert.Equal(t, int64(4400), sale.Change)

	summary := doJSON(t, api, http.MethodGet, "/api/v1/shifts/"+shift.ID+"/summary", tokens.cashier, nil)
	require.Equal(t, http.StatusOK, summary.Code)
	assert.Equal(t, int64(85600), decodeBody[domain.ShiftSummary](t, summary).ExpectedCash)
}

func TestVoidSaleRequiresManagerPIN(t *testing.T) {
	api, tokens := newTestAPI(t)
	shift := openTestShift(t, api, tokens.cashier, 0)

	created := doJSON(t, api, http.MethodPost, "/api/v1/sales", tokens.cashier, domain.SaleRequest{
		BranchID:       memory.SeedBranchID,
		WarehouseID:    memory.SeedWarehouseID,
		ShiftID:        shift.ID,
		Lines:          []domain.SaleLine{{ProductID: "SKU-GULA-01", Quantity: 1, UnitPrice: 17400}},
		PaymentMethod:  domain.PaymentQRIS,
		IdempotencyKey: "idem-http-void",
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	sale := decodeBody[domain.Sale](t, created)

	cashier := doJSON(t, api, http.MethodPost, "/api/v1/sales/"+sale.ID+"/void", tokens.cashier, domain.VoidSaleRequest{ManagerPIN: "123456"})
	require.Equal(t, http.StatusForbidden, cashier.Code)

	wrongPIN := doJSON(t, api, http.MethodPost, "/api/v1/sales/"+sale.ID+"/void", tokens.admin, domain.VoidSaleRequest{ManagerPIN: "999999"})
	require.Equal(t, http.StatusForbidden, wrongPIN.Code)
	assert.Equal(t, "manager_pin", decodeBody[errorBody](t, wrongPIN).Field)

	voided := doJSON(t, api, http.MethodPost, "/api/v1/sales/"+sale.ID+"/void", tokens.admin, domain.VoidSaleRequest{Reason: "salah input", ManagerPIN: "123456"})
	require.Equal(t, http.StatusOK, voided.Code, voided.Body.String())
	assert.Equal(t, domain.SaleStatusVoid, decodeBody[domain.Sale](t, voided).Status)

	logs := doJSON(t, api, http.MethodGet, "/api/v1/audit-logs?branch_id="+memory.SeedBranchID, tokens.admin, nil)
	require.Equal(t, http.StatusOK, logs.Code)
	entries := decodeBody[struct {
		Items []domain.AuditLog `json:"items"`
	}](t, logs)
	actions := make([]string, 0, len(entries.Items))
	for _, entry := range entries.Items {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "sale_void")
	assert.Contains(t, actions, "shift_open")
}

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	api, tokens := newTestAPI(t)

	created := doJSON(t, api, http.MethodPost, "/api/v1/documents", tokens.cashier, domain.DocumentCreateRequest{
		BranchID:        memory.SeedBranchID,
		DocType:         domain.DocTransfer,
		WarehouseFromID: memory.SeedWarehouseID,
		WarehouseToID:   memory.SeedBackWarehouse,
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	doc := decodeBody[domain.InventoryDocument](t, created)
	base := "/api/v1/documents/" + doc.ID

	emptyPost := doJSON(t, api, http.MethodPost, base+"/post", tokens.cashier, nil)
	require.Equal(t, http.StatusBadRequest, emptyPost.Code)
	assert.Equal(t, "lines", decodeBody[errorBody](t, emptyPost).Field)

	added := doJSON(t, api, http.MethodPost, base+"/lines", tokens.cashier, domain.DocumentLineRequest{ProductID: "SKU-SUSU-01", Quantity: 5})
	require.Equal(t, http.StatusOK, added.Code, added.Body.String())
	withLine := decodeBody[domain.InventoryDocument](t, added)
	require.Len(t, withLine.Lines, 1)
	lineID := withLine.Lines[0].ID

	updated := doJSON(t, api, http.MethodPatch, base+"/lines/"+lineID, tokens.cashier, domain.DocumentLineRequest{ProductID: "SKU-SUSU-01", Quantity: 10})
	require.Equal(t, http.StatusOK, updated.Code, updated.Body.String())
	assert.Equal(t, 10, decodeBody[domain.InventoryDocument](t, updated).Lines[0].Quantity)

	posted := doJSON(t, api, http.MethodPost, base+"/post", tokens.cashier, nil)
	require.Equal(t, http.StatusOK, posted.Code, posted.Body.String())
	assert.Equal(t, domain.DocPosted, decodeBody[domain.InventoryDocument](t, posted).Status)

	locked := doJSON(t, api, http.MethodDelete, base+"/lines/"+lineID, tokens.cashier, nil)
	require.Equal(t, http.StatusUnprocessableEntity, locked.Code)

	back := doJSON(t, api, http.MethodGet, "/api/v1/stock?warehouse_id=WH-BACK&product_id=SKU-SUSU-01", tokens.cashier, nil)
	assert.Equal(t, 50, decodeBody[domain.StockLevel](t, back).Quantity)

	voided := doJSON(t, api, http.MethodPost, base+"/void", tokens.cashier, domain.DocumentVoidRequest{Reason: "salah gudang"})
	require.Equal(t, http.StatusOK, voided.Code, voided.Body.String())

	back = doJSON(t, api, http.MethodGet, "/api/v1/stock?warehouse_id=WH-BACK&product_id=SKU-SUSU-01", tokens.cashier, nil)
	assert.Equal(t, 40, decodeBody[domain.StockLevel](t, back).Quantity)

	fetched := doJSON(t, api, http.MethodGet, base, tokens.cashier, nil)
	require.Equal(t, http.StatusOK, fetched.Code)
	assert.Equal(t, domain.DocVoid, decodeBody[domain.InventoryDocument](t, fetched).Status)
}

func TestCatalogRequiresWarehouse(t *testing.T) {
	api, tokens := newTestAPI(t)

	missing := doJSON(t, api, http.MethodGet, "/api/v1/catalog", tokens.cashier, nil)
	require.Equal(t, http.StatusBadRequest, missing.Code)
	assert.Equal(t, "warehouse_id", decodeBody[errorBody](t, missing).Field)

	res := doJSON(t, api, http.MethodGet, "/api/v1/catalog?warehouse_id=WH-MAIN&category=beverage", tokens.cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody[struct {
		Items []domain.CatalogItem `json:"items"`
	}](t, res)
	assert.Len(t, body.Items, 3)
}

func TestStatusForMapsKinds(t *testing.T) {
	cases := map[int]error{
		http.StatusBadRequest:          domain.Validation("op", "f", "bad"),
		http.StatusForbidden:           domain.Forbidden("op", "no"),
		http.StatusNotFound:            domain.NotFound("op", "gone"),
		http.StatusConflict:            domain.Conflict("op", "dup"),
		http.StatusUnprocessableEntity: domain.State("op", "closed"),
		http.StatusGatewayTimeout:      domain.Timeout("op", nil),
		http.StatusInternalServerError: assert.AnError,
	}
	for want, err := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
}
