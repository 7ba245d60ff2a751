// Package terminalapi is the loopback HTTP API the terminal UI talks to. It
// owns the terminal's current session and delegates to the engines.
package terminalapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/engine"
	"tokoledger/backend/internal/httpapi"
)

type Engines struct {
	Shifts    *engine.ShiftManager
	Sales     *engine.SaleEngine
	Documents *engine.DocumentEngine
	Catalog   *engine.CatalogCache
	Sync      *engine.SyncEngine
	Conn      *engine.Connectivity
}

type API struct {
	engines Engines
	log     zerolog.Logger

	mu   sync.RWMutex
	sess engine.Session
}

func New(engines Engines, base engine.Session, logger zerolog.Logger) *API {
	return &API{
		engines: engines,
		sess:    base,
		log:     logger.With().Str("component", "terminalapi").Logger(),
	}
}

func (a *API) Session() engine.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sess
}

// BindShift binds the terminal session to shiftID; an empty id unbinds it.
func (a *API) BindShift(shiftID string) {
	a.mu.Lock()
	a.sess.ShiftID = shiftID
	a.mu.Unlock()
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)

	mux.HandleFunc("GET /shifts/current", a.handleShiftCurrent)
	mux.HandleFunc("POST /shifts/open", a.handleShiftOpen)
	mux.HandleFunc("POST /shifts/close", a.handleShiftClose)

	mux.HandleFunc("POST /sales", a.handleSaleCreate)
	mux.HandleFunc("GET /sales/lookup/{key}", a.handleSaleLookup)
	mux.HandleFunc("POST /sales/{id}/void", a.handleSaleVoid)
	mux.HandleFunc("POST /orders/{id}/invoice", a.handleOrderInvoice)

	mux.HandleFunc("POST /documents", a.handleDocumentCreate)
	mux.HandleFunc("GET /documents/{id}", a.handleDocumentRefresh)
	mux.HandleFunc("POST /documents/{id}/lines", a.handleDocumentLineAdd)
	mux.HandleFunc("PATCH /documents/{id}/lines/{lineId}", a.handleDocumentLineUpdate)
	mux.HandleFunc("DELETE /documents/{id}/lines/{lineId}", a.handleDocumentLineRemove)
	mux.HandleFunc("POST /documents/{id}/post", a.handleDocumentPost)
	mux.HandleFunc("POST /documents/{id}/void", a.handleDocumentVoid)

	mux.HandleFunc("GET /catalog", a.handleCatalog)
	mux.HandleFunc("GET /sync/status", a.handleSyncStatus)
	mux.HandleFunc("POST /sync/run", a.handleSyncRun)

	return a.withMiddleware(mux)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"online": a.engines.Conn.Online(),
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleShiftCurrent(w http.ResponseWriter, r *http.Request) {
	sess := a.Session()
	shift, err := a.engines.Shifts.Resume(r.Context(), sess)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.BindShift(shift.ID)
	writeJSON(w, http.StatusOK, shift)
}

type shiftOpenRequest struct {
	OpeningCash int64 `json:"opening_cash"`
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	var req shiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	shift, err := a.engines.Shifts.Open(r.Context(), a.Session(), req.OpeningCash)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.BindShift(shift.ID)
	writeJSON(w, http.StatusCreated, shift)
}

type shiftCloseRequest struct {
	ActualCash    int64  `json:"actual_cash"`
	VarianceNotes string `json:"variance_notes"`
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	var req shiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	sess := a.Session()
	shift, err := a.engines.Shifts.Close(r.Context(), sess, sess.ShiftID, req.ActualCash, req.VarianceNotes)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.BindShift("")
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleSaleCreate(w http.ResponseWriter, r *http.Request) {
	var in engine.SaleInput
	if err := decodeJSON(r, &in); err != nil {
		writeBadRequest(w, err)
		return
	}
	out, err := a.engines.Sales.CreateSale(r.Context(), a.Session(), in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if out.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

func (a *API) handleSaleLookup(w http.ResponseWriter, r *http.Request) {
	sale, err := a.engines.Sales.LookupSale(r.Context(), r.PathValue("key"))
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusOK, domain.SaleLookup{Found: false})
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SaleLookup{Found: true, Sale: sale})
}

type voidRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

func (a *API) handleSaleVoid(w http.ResponseWriter, r *http.Request) {
	var req voidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	sale, err := a.engines.Sales.VoidSale(r.Context(), a.Session(), r.PathValue("id"), req.Reason, req.ManagerPIN)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

type invoiceRequest struct {
	PaymentMethod  string `json:"payment_method"`
	AmountTendered int64  `json:"amount_tendered"`
}

func (a *API) handleOrderInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	sale, err := a.engines.Sales.CreateInvoiceFromPreparedOrder(r.Context(), a.Session(), r.PathValue("id"), req.PaymentMethod, req.AmountTendered)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleDocumentCreate(w http.ResponseWriter, r *http.Request) {
	var in engine.DocumentInput
	if err := decodeJSON(r, &in); err != nil {
		writeBadRequest(w, err)
		return
	}
	doc, err := a.engines.Documents.Create(r.Context(), a.Session(), in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (a *API) handleDocumentRefresh(w http.ResponseWriter, r *http.Request) {
	a.writeDocument(w, func() (*domain.InventoryDocument, error) {
		return a.engines.Documents.Refresh(r.Context(), r.PathValue("id"))
	})
}

func (a *API) handleDocumentLineAdd(w http.ResponseWriter, r *http.Request) {
	var line domain.DocumentLineRequest
	if err := decodeJSON(r, &line); err != nil {
		writeBadRequest(w, err)
		return
	}
	a.writeDocument(w, func() (*domain.InventoryDocument, error) {
		return a.engines.Documents.AddLine(r.Context(), r.PathValue("id"), line)
	})
}

func (a *API) handleDocumentLineUpdate(w http.ResponseWriter, r *http.Request) {
	var line domain.DocumentLineRequest
	if err := decodeJSON(r, &line); err != nil {
		writeBadRequest(w, err)
		return
	}
	a.writeDocument(w, func() (*domain.InventoryDocument, error) {
		return a.engines.Documents.UpdateLine(r.Context(), r.PathValue("id"), r.PathValue("lineId"), line)
	})
}

func (a *API) handleDocumentLineRemove(w http.ResponseWriter, r *http.Request) {
	a.writeDocument(w, func() (*domain.InventoryDocument, error) {
		return a.engines.Documents.RemoveLine(r.Context(), r.PathValue("id"), r.PathValue("lineId"))
	})
}

func (a *API) handleDocumentPost(w http.ResponseWriter, r *http.Request) {
	a.writeDocument(w, func() (*domain.InventoryDocument, error) {
		return a.engines.Documents.Post(r.Context(), r.PathValue("id"))
	})
}

func (a *API) handleDocumentVoid(w http.ResponseWriter, r *http.Request) {
	var req domain.DocumentVoidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	a.writeDocument(w, func() (*domain.InventoryDocument, error) {
		return a.engines.Documents.Void(r.Context(), r.PathValue("id"), req.Reason)
	})
}

func (a *API) writeDocument(w http.ResponseWriter, call func() (*domain.InventoryDocument, error)) {
	doc, err := call()
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.CatalogFilter{Category: q.Get("category"), Query: q.Get("q")}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	items, fromCache, err := a.engines.Catalog.Browse(r.Context(), a.Session().WarehouseID, filter)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "from_cache": fromCache})
}

func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := a.engines.Sync.PendingCount(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"online":  a.engines.Conn.Online(),
		"pending": pending,
	})
}

func (a *API) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	report, err := a.engines.Sync.SyncNow(r.Context())
	if err != nil {
		// The report is still useful to the UI; the error travels alongside.
		writeJSON(w, httpapi.StatusFor(err), map[string]any{
			"report": report,
			"error":  err.Error(),
			"kind":   domain.KindOf(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		if r.Method == http.MethodPost || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(startedAt)).
			Msg("request")
	})
}

type errorBody struct {
	Error string      `json:"error"`
	Kind  domain.Kind `json:"kind"`
	Field string      `json:"field,omitempty"`
}

// writeError maps engine errors like the server does. Network failures to
// the backend surface as 502 so the UI can tell them apart.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := httpapi.StatusFor(err)
	if domain.KindOf(err) == domain.KindNetwork {
		status = http.StatusBadGateway
	}
	if status >= 500 {
		a.log.Warn().Err(err).Int("status", status).Msg("terminal request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: domain.KindOf(err), Field: domain.FieldOf(err)})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: domain.KindValidation})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
