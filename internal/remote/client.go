// Package remote is the terminal side of the HTTP RPC boundary. Every call is
// bounded by a fixed timeout and failures come back as typed domain errors.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

var _ store.Backend = (*Client)(nil)

type Client struct {
	baseURL     string
	token       string
	callTimeout time.Duration
	httpClient  *http.Client
}

func New(baseURL string, token string, callTimeout time.Duration) *Client {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		callTimeout: callTimeout,
		// No client-level timeout; each call carries its own deadline.
		httpClient: &http.Client{},
	}
}

// Health reports whether the backend answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (*domain.Shift, error) {
	var out domain.Shift
	if err := c.do(ctx, "open shift", http.MethodPost, "/api/v1/shifts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	var out domain.Shift
	if err := c.do(ctx, "get shift", http.MethodGet, "/api/v1/shifts/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetActiveShift(ctx context.Context, branchID string) (*domain.Shift, error) {
	var out domain.Shift
	path := "/api/v1/shifts/active?branch_id=" + url.QueryEscape(branchID)
	if err := c.do(ctx, "get active shift", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ShiftSummary(ctx context.Context, id string) (*domain.ShiftSummary, error) {
	var out domain.ShiftSummary
	if err := c.do(ctx, "shift summary", http.MethodGet, "/api/v1/shifts/"+url.PathEscape(id)+"/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (*domain.Shift, error) {
	var out domain.Shift
	if err := c.do(ctx, "close shift", http.MethodPost, "/api/v1/shifts/"+url.PathEscape(req.ShiftID)+"/close", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	var out domain.Sale
	if err := c.do(ctx, "create sale", http.MethodPost, "/api/v1/sales", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	const op = "find sale"
	var out domain.SaleLookup
	if err := c.do(ctx, op, http.MethodGet, "/api/v1/sales/idempotency/"+url.PathEscape(key), nil, &out); err != nil {
		return nil, err
	}
	if !out.Found || out.Sale == nil {
		return nil, domain.NotFound(op, "no sale for idempotency key %s", key)
	}
	return out.Sale, nil
}

func (c *Client) InvoicePreparedOrder(ctx context.Context, req domain.InvoiceRequest) (*domain.Sale, error) {
	var out domain.Sale
	if err := c.do(ctx, "invoice prepared order", http.MethodPost, "/api/v1/orders/"+url.PathEscape(req.OrderID)+"/invoice", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) VoidSale(ctx context.Context, req domain.VoidSaleRequest) (*domain.Sale, error) {
	var out domain.Sale
	if err := c.do(ctx, "void sale", http.MethodPost, "/api/v1/sales/"+url.PathEscape(req.SaleID)+"/void", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateDocument(ctx context.Context, req domain.DocumentCreateRequest) (*domain.InventoryDocument, error) {
	return c.document(ctx, "create document", http.MethodPost, "/api/v1/documents", req)
}

func (c *Client) GetDocument(ctx context.Context, id string) (*domain.InventoryDocument, error) {
	return c.document(ctx, "get document", http.MethodGet, documentPath(id), nil)
}

func (c *Client) AddDocumentLine(ctx context.Context, documentID string, req domain.DocumentLineRequest) (*domain.InventoryDocument, error) {
	return c.document(ctx, "add document line", http.MethodPost, documentPath(documentID)+"/lines", req)
}

func (c *Client) UpdateDocumentLine(ctx context.Context, documentID string, lineID string, req domain.DocumentLineRequest) (*domain.InventoryDocument, error) {
	return c.document(ctx, "update document line", http.MethodPatch, documentPath(documentID)+"/lines/"+url.PathEscape(lineID), req)
}

func (c *Client) RemoveDocumentLine(ctx context.Context, documentID string, lineID string) (*domain.InventoryDocument, error) {
	return c.document(ctx, "remove document line", http.MethodDelete, documentPath(documentID)+"/lines/"+url.PathEscape(lineID), nil)
}

func (c *Client) PostDocument(ctx context.Context, id string) (*domain.InventoryDocument, error) {
	return c.document(ctx, "post document", http.MethodPost, documentPath(id)+"/post", nil)
}

func (c *Client) VoidDocument(ctx context.Context, id string, reason string) (*domain.InventoryDocument, error) {
	return c.document(ctx, "void document", http.MethodPost, documentPath(id)+"/void", domain.DocumentVoidRequest{Reason: reason})
}

func (c *Client) ListCatalog(ctx context.Context, warehouseID string, filter domain.CatalogFilter) ([]domain.CatalogItem, error) {
	q := url.Values{}
	q.Set("warehouse_id", warehouseID)
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	if filter.Query != "" {
		q.Set("q", filter.Query)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	var out struct {
		Items []domain.CatalogItem `json:"items"`
	}
	if err := c.do(ctx, "list catalog", http.MethodGet, "/api/v1/catalog?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) GetStock(ctx context.Context, warehouseID string, productID string) (domain.StockLevel, error) {
	q := url.Values{}
	q.Set("warehouse_id", warehouseID)
	q.Set("product_id", productID)

	var out domain.StockLevel
	if err := c.do(ctx, "get stock", http.MethodGet, "/api/v1/stock?"+q.Encode(), nil, &out); err != nil {
		return domain.StockLevel{}, err
	}
	return out, nil
}

func (c *Client) document(ctx context.Context, op string, method string, path string, body any) (*domain.InventoryDocument, error) {
	var out domain.InventoryDocument
	if err := c.do(ctx, op, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func documentPath(id string) string {
	return "/api/v1/documents/" + url.PathEscape(id)
}

type errorBody struct {
	Error string      `json:"error"`
	Kind  domain.Kind `json:"kind"`
	Field string      `json:"field"`
}

func (c *Client) do(ctx context.Context, op string, method string, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A body cut short by the deadline still leaves the outcome unknown.
		if ctx.Err() != nil {
			return domain.Timeout(op, ctx.Err())
		}
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func classifyTransportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Timeout(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.Timeout(op, err)
	}
	return domain.Network(op, err)
}

func decodeError(op string, resp *http.Response) error {
	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(raw, &body)

	msg := strings.TrimSpace(body.Error)
	if msg == "" {
		msg = fmt.Sprintf("backend returned %d", resp.StatusCode)
	}

	kind := body.Kind
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusTooManyRequests:
		kind = domain.KindForbidden
	case kind == "":
		kind = kindForStatus(resp.StatusCode)
	}
	if kind == domain.KindTimeout {
		return domain.Timeout(op, errors.New(msg))
	}
	// The server usually names the same operation; keep one prefix.
	msg = strings.TrimPrefix(msg, op+": ")
	return &domain.Error{Kind: kind, Op: op, Field: body.Field, Message: msg}
}

func kindForStatus(status int) domain.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return domain.KindValidation
	case http.StatusForbidden:
		return domain.KindForbidden
	case http.StatusNotFound:
		return domain.KindNotFound
	case http.StatusConflict:
		return domain.KindConflict
	case http.StatusUnprocessableEntity:
		return domain.KindState
	case http.StatusGatewayTimeout:
		return domain.KindTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return domain.KindNetwork
	default:
		return domain.KindInternal
	}
}
