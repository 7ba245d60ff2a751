package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	pinLimiter    *attemptLimiter
	log           zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger zerolog.Logger) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		log:           logger.With().Str("component", "httpapi").Logger(),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)

	mux.HandleFunc("POST /api/v1/shifts", a.requireAuth(a.handleShiftOpen, roleCashier, roleAdmin))
	mux.HandleFunc("GET /api/v1/shifts/active", a.requireAuth(a.handleShiftActive, roleCashier, roleAdmin))
	mux.HandleFunc("GET /api/v1/shifts/{id}", a.requireAuth(a.handleShiftGet, roleCashier, roleAdmin))
	mux.HandleFunc("GET /api/v1/shifts/{id}/summary", a.requireAuth(a.handleShiftSummary, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/shifts/{id}/close", a.requireAuth(a.handleShiftClose, roleCashier, roleAdmin))

	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleSaleCreate, roleCashier, roleAdmin))
	mux.HandleFunc("GET /api/v1/sales/idempotency/{key}", a.requireAuth(a.handleSaleLookup, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/sales/{id}/void", a.requireAuth(a.handleSaleVoid, roleAdmin))
	mux.HandleFunc("POST /api/v1/orders", a.requireAuth(a.handleOrderPrepare, roleAdmin))
	mux.HandleFunc("POST /api/v1/orders/{id}/invoice", a.requireAuth(a.handleOrderInvoice, roleCashier, roleAdmin))

	mux.HandleFunc("POST /api/v1/documents", a.requireAuth(a.handleDocumentCreate, roleCashier, roleAdmin))
	mux.HandleFunc("GET /api/v1/documents/{id}", a.requireAuth(a.handleDocumentGet, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/documents/{id}/lines", a.requireAuth(a.handleDocumentLineAdd, roleCashier, roleAdmin))
	mux.HandleFunc("PATCH /api/v1/documents/{id}/lines/{lineId}", a.requireAuth(a.handleDocumentLineUpdate, roleCashier, roleAdmin))
	mux.HandleFunc("DELETE /api/v1/documents/{id}/lines/{lineId}", a.requireAuth(a.handleDocumentLineRemove, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/documents/{id}/post", a.requireAuth(a.handleDocumentPost, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/documents/{id}/void", a.requireAuth(a.handleDocumentVoid, roleCashier, roleAdmin))

	mux.HandleFunc("GET /api/v1/catalog", a.requireAuth(a.handleCatalog, roleCashier, roleAdmin))
	mux.HandleFunc("GET /api/v1/stock", a.requireAuth(a.handleStock, roleCashier, roleAdmin))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, roleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeStatus(w, http.StatusUnauthorized, domain.KindForbidden, "missing bearer token", "")
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeStatus(w, http.StatusUnauthorized, domain.KindForbidden, err.Error(), "")
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeStatus(w, http.StatusForbidden, domain.KindForbidden, "forbidden role", "")
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	shift, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	shift, err := a.service.GetActiveShift(r.Context(), r.URL.Query().Get("branch_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleShiftGet(w http.ResponseWriter, r *http.Request) {
	shift, err := a.service.GetShift(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleShiftSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.ShiftSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	req.ShiftID = r.PathValue("id")

	shift, err := a.service.CloseShift(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleSaleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if sale.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, sale)
}

func (a *API) handleSaleLookup(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.FindSaleByIdempotency(r.Context(), r.PathValue("key"))
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

func (a *API) handleSaleVoid(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if !a.pinLimiter.Allow("pin:void:" + clientKey(r)) {
		writeStatus(w, http.StatusTooManyRequests, domain.KindForbidden, "too many manager pin attempts", "")
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeStatus(w, http.StatusForbidden, domain.KindForbidden, "invalid manager pin", "manager_pin")
		return
	}
	req.SaleID = r.PathValue("id")

	sale, err := a.service.VoidSale(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleOrderPrepare(w http.ResponseWriter, r *http.Request) {
	var order domain.Sale
	if err := decodeJSON(r, &order); err != nil {
		writeBadRequest(w, err)
		return
	}
	prepared, err := a.service.PrepareOrder(r.Context(), order)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, prepared)
}

func (a *API) handleOrderInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	req.OrderID = r.PathValue("id")

	sale, err := a.service.InvoicePreparedOrder(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleDocumentCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.DocumentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	doc, err := a.service.CreateDocument(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (a *API) handleDocumentGet(w http.ResponseWriter, r *http.Request) {
	doc, err := a.service.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleDocumentLineAdd(w http.ResponseWriter, r *http.Request) {
	var req domain.DocumentLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	doc, err := a.service.AddDocumentLine(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleDocumentLineUpdate(w http.ResponseWriter, r *http.Request) {
	var req domain.DocumentLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	doc, err := a.service.UpdateDocumentLine(r.Context(), r.PathValue("id"), r.PathValue("lineId"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleDocumentLineRemove(w http.ResponseWriter, r *http.Request) {
	doc, err := a.service.RemoveDocumentLine(r.Context(), r.PathValue("id"), r.PathValue("lineId"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleDocumentPost(w http.ResponseWriter, r *http.Request) {
	doc, err := a.service.PostDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleDocumentVoid(w http.ResponseWriter, r *http.Request) {
	var req domain.DocumentVoidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	doc, err := a.service.VoidDocument(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.CatalogFilter{
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Limit:    parsePositiveLimit(q.Get("limit"), 0, 1000),
	}
	items, err := a.service.ListCatalog(r.Context(), q.Get("warehouse_id"), filter)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	level, err := a.service.GetStock(r.Context(), q.Get("warehouse_id"), q.Get("product_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), q.Get("branch_id"), parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
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

// StatusFor maps an error kind onto the HTTP status the API answers with.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindState:
		return http.StatusUnprocessableEntity
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string      `json:"error"`
	Kind  domain.Kind `json:"kind"`
	Field string      `json:"field,omitempty"`
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	kind := domain.KindOf(err)
	msg := err.Error()
	// 5xx bodies never carry driver or SQL details.
	if status >= 500 {
		a.log.Error().Err(err).Int("status", status).Msg("request failed")
		if kind != domain.KindTimeout {
			kind = domain.KindInternal
			msg = "internal server error"
		}
	}
	writeStatus(w, status, kind, msg, domain.FieldOf(err))
}

func writeBadRequest(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeStatus(w, http.StatusRequestEntityTooLarge, domain.KindValidation, "request body too large", "")
		return
	}
	writeStatus(w, http.StatusBadRequest, domain.KindValidation, err.Error(), "")
}

func writeStatus(w http.ResponseWriter, status int, kind domain.Kind, msg string, field string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind, Field: field})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
