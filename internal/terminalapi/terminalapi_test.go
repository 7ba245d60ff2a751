package terminalapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/engine"
	"tokoledger/backend/internal/localstore"
	"tokoledger/backend/internal/store/memory"
)

type testTerminal struct {
	api     *API
	handler http.Handler
	conn    *engine.Connectivity
	repo    *memory.Store
}

func newTestTerminal(t *testing.T) testTerminal {
	t.Helper()
	local, err := localstore.Open(filepath.Join(t.TempDir(), "terminal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	repo := memory.NewSeeded()
	log := zerolog.Nop()
	conn := engine.NewConnectivity(true)
	base := engine.Session{BranchID: memory.SeedBranchID, WarehouseID: memory.SeedWarehouseID, CashierID: "kasir-1"}

	shifts := engine.NewShiftManager(repo, local, log)
	catalog := engine.NewCatalogCache(repo, local, conn, log)
	queue := engine.NewOfflineQueue(local)
	sales := engine.NewSaleEngine(repo, shifts, catalog, queue, conn, log)
	api := New(Engines{
		Shifts:    shifts,
		Sales:     sales,
		Documents: engine.NewDocumentEngine(repo, log),
		Catalog:   catalog,
		Sync:      engine.NewSyncEngine(queue, sales, shifts, conn, base, log),
		Conn:      conn,
	}, base, log)
	return testTerminal{api: api, handler: api.Handler(), conn: conn, repo: repo}
}

func (tt testTerminal) do(t *testing.T, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	tt.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func kopiSale(qty int, tendered int64) engine.SaleInput {
	return engine.SaleInput{
		Lines:          []engine.CartLine{{ProductID: "SKU-KOPI-01", Quantity: qty, UnitPrice: 2600}},
		PaymentMethod:  domain.PaymentCash,
		AmountTendered: tendered,
	}
}

func TestSaleBeforeShiftIsRejected(t *testing.T) {
	tt := newTestTerminal(t)

	rec := tt.do(t, http.MethodPost, "/sales", kopiSale(1, 5000))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, domain.KindValidation, body.Kind)
	assert.Equal(t, "shift_id", body.Field)
}

func TestOnlineAndOfflineSalesThroughOneShift(t *testing.T) {
	tt := newTestTerminal(t)

	rec := tt.do(t, http.MethodPost, "/shifts/open", map[string]any{"opening_cash": 100000})
	require.Equal(t, http.StatusCreated, rec.Code)
	shift := decode[domain.Shift](t, rec)
	assert.Equal(t, shift.ID, tt.api.Session().ShiftID)

	rec = tt.do(t, http.MethodPost, "/sales", kopiSale(2, 10000))
	require.Equal(t, http.StatusCreated, rec.Code)
	online := decode[engine.SaleOutcome](t, rec)
	require.NotNil(t, online.Sale)
	assert.Equal(t, int64(5200), online.Sale.Total)

	tt.conn.Set(false)
	rec = tt.do(t, http.MethodPost, "/sales", kopiSale(1, 2600))
	require.Equal(t, http.StatusAccepted, rec.Code)
	queued := decode[engine.SaleOutcome](t, rec)
	assert.True(t, queued.Queued)
	assert.NotEmpty(t, queued.RecordID)

	rec = tt.do(t, http.MethodGet, "/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	assert.Equal(t, false, status["online"])
	assert.EqualValues(t, 1, status["pending"])

	tt.conn.Set(true)
	rec = tt.do(t, http.MethodPost, "/sync/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[struct {
		Report engine.ReplayReport `json:"report"`
	}](t, rec)
	assert.Equal(t, 1, run.Report.Synced)
	assert.Equal(t, 0, run.Report.Remaining)

	rec = tt.do(t, http.MethodGet, "/sales/lookup/"+queued.RecordID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lookup := decode[domain.SaleLookup](t, rec)
	require.True(t, lookup.Found)
	assert.Equal(t, shift.ID, lookup.Sale.ShiftID)

	// 100000 + 5200 + 2600 expected in the drawer.
	rec = tt.do(t, http.MethodPost, "/shifts/close", map[string]any{"actual_cash": 107800})
	require.Equal(t, http.StatusOK, rec.Code)
	closed := decode[domain.Shift](t, rec)
	assert.Equal(t, domain.ShiftStatusClosed, closed.Status)
	assert.Empty(t, tt.api.Session().ShiftID)
}

func TestSyncWithoutOpenShiftReportsConflict(t *testing.T) {
	tt := newTestTerminal(t)
	require.Equal(t, http.StatusCreated, tt.do(t, http.MethodPost, "/shifts/open", map[string]any{"opening_cash": 0}).Code)

	tt.conn.Set(false)
	require.Equal(t, http.StatusAccepted, tt.do(t, http.MethodPost, "/sales", kopiSale(1, 2600)).Code)
	tt.conn.Set(true)
	require.Equal(t, http.StatusOK, tt.do(t, http.MethodPost, "/shifts/close", map[string]any{"actual_cash": 0}).Code)

	rec := tt.do(t, http.MethodPost, "/sync/run", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, string(domain.KindConflict), body["kind"])

	status := decode[map[string]any](t, tt.do(t, http.MethodGet, "/sync/status", nil))
	assert.EqualValues(t, 1, status["pending"])
}

func TestCurrentShiftResumesSession(t *testing.T) {
	tt := newTestTerminal(t)

	rec := tt.do(t, http.MethodGet, "/shifts/current", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusCreated, tt.do(t, http.MethodPost, "/shifts/open", map[string]any{"opening_cash": 50000}).Code)
	opened := tt.api.Session().ShiftID
	tt.api.BindShift("")

	rec = tt.do(t, http.MethodGet, "/shifts/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, opened, tt.api.Session().ShiftID)
}

func TestCatalogFallsBackToSnapshotOffline(t *testing.T) {
	tt := newTestTerminal(t)

	type catalogBody struct {
		Items     []domain.ProductCacheEntry `json:"items"`
		FromCache bool                       `json:"from_cache"`
	}
	rec := tt.do(t, http.MethodGet, "/catalog?category=beverage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fresh := decode[catalogBody](t, rec)
	assert.False(t, fresh.FromCache)
	assert.Len(t, fresh.Items, 3)

	tt.conn.Set(false)
	rec = tt.do(t, http.MethodGet, "/catalog?category=beverage&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cached := decode[catalogBody](t, rec)
	assert.True(t, cached.FromCache)
	assert.Len(t, cached.Items, 2)
}

func TestDocumentLifecycleOnTerminal(t *testing.T) {
	tt := newTestTerminal(t)

	rec := tt.do(t, http.MethodPost, "/documents", map[string]any{
		"doc_type":        "receipt",
		"warehouse_to_id": memory.SeedWarehouseID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	doc := decode[domain.InventoryDocument](t, rec)

	rec = tt.do(t, http.MethodPost, "/documents/"+doc.ID+"/post", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "lines", decode[errorBody](t, rec).Field)

	rec = tt.do(t, http.MethodPost, "/documents/"+doc.ID+"/lines", map[string]any{"product_id": "SKU-ROTI-01", "quantity": 5, "unit_cost": 15000})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = tt.do(t, http.MethodPost, "/documents/"+doc.ID+"/post", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.DocPosted, decode[domain.InventoryDocument](t, rec).Status)

	rec = tt.do(t, http.MethodPost, "/documents/"+doc.ID+"/lines", map[string]any{"product_id": "SKU-ROTI-01", "quantity": 1})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = tt.do(t, http.MethodPost, "/documents/"+doc.ID+"/void", map[string]any{"reason": "duplicate delivery"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.DocVoid, decode[domain.InventoryDocument](t, rec).Status)
}

func TestUnknownFieldIsBadRequest(t *testing.T) {
	tt := newTestTerminal(t)
	rec := tt.do(t, http.MethodPost, "/shifts/open", map[string]any{"opening_cash": 1, "drawer": "A"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
