package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"
)

// stubService implements the ApplicationService methods these tests hit.
// Any other call panics through the nil embedded interface, which the
// Recoverer turns into a 500.
type stubService struct {
	app.ApplicationService

	lastAction  app.OrderAction
	reserveErr  error
	transferErr error
}

func (s *stubService) GetOrder(_ context.Context, id int) (*app.OrderResult, error) {
	if id == 404 {
		return nil, fmt.Errorf("%w: order %d", core.ErrNotFound, id)
	}
	return &app.OrderResult{Order: &core.Order{ID: id, Status: core.OrderPending}}, nil
}

func (s *stubService) CreateOrder(_ context.Context, req app.CreateOrderRequest) (*app.OrderResult, error) {
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: order must have at least one line", core.ErrInvalidInput)
	}
	return &app.OrderResult{Order: &core.Order{ID: 1, Status: core.OrderPending, CreatedBy: req.CreatedBy}}, nil
}

func (s *stubService) TransitionOrder(_ context.Context, id int, action app.OrderAction) (*app.OrderResult, error) {
	s.lastAction = action
	if action == app.ActionPack {
		return nil, fmt.Errorf("%w: order %d cannot move from PENDING to PACKED", core.ErrInvalidTransition, id)
	}
	return &app.OrderResult{Order: &core.Order{ID: id, Status: core.OrderApproved}}, nil
}

func (s *stubService) ReserveOrder(_ context.Context, id int) (*app.ReservationResult, error) {
	if s.reserveErr != nil {
		return &app.ReservationResult{OrderID: id, Status: core.ReservationFailed}, s.reserveErr
	}
	return &app.ReservationResult{OrderID: id, Status: core.ReservationReserved}, nil
}

func (s *stubService) AdjustStock(_ context.Context, req app.AdjustStockRequest) (*core.StockRecord, error) {
	if req.QuantityDelta < -10 {
		return nil, fmt.Errorf("%w: stock 1: quantity would become -5", core.ErrConstraintViolation)
	}
	return &core.StockRecord{ID: 1, WarehouseID: req.WarehouseID, VariantID: req.VariantID, Quantity: 5 + req.QuantityDelta}, nil
}

func (s *stubService) CompleteTransfer(_ context.Context, id int) (*core.StockTransfer, error) {
	if s.transferErr != nil {
		return nil, s.transferErr
	}
	return &core.StockTransfer{ID: id, Status: core.TransferCompleted}, nil
}

func newTestServer(svc app.ApplicationService) http.Handler {
	return NewHandler(svc, []string{"http://localhost:3000"}, nil)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&stubService{}), http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestGetOrder(t *testing.T) {
	h := newTestServer(&stubService{})

	rec := do(t, h, http.MethodGet, "/api/orders/7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result app.OrderResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Order == nil || result.Order.ID != 7 {
		t.Errorf("order = %+v", result.Order)
	}

	rec = do(t, h, http.MethodGet, "/api/orders/404", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing order: status = %d, want 404", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != "NOT_FOUND" || resp.RequestID == "" {
		t.Errorf("error response = %+v", resp)
	}

	rec = do(t, h, http.MethodGet, "/api/orders/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestCreateOrder(t *testing.T) {
	h := newTestServer(&stubService{})

	rec := do(t, h, http.MethodPost, "/api/orders", `{"created_by":"ops","lines":[{"variant_id":1,"quantity":2}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/orders", `{"lines":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty lines: status = %d, want 400", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/orders", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON: status = %d, want 400", rec.Code)
	}
}

func TestTransitionOrder(t *testing.T) {
	svc := &stubService{}
	h := newTestServer(svc)

	rec := do(t, h, http.MethodPost, "/api/orders/3/approve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status = %d, want 200", rec.Code)
	}
	if svc.lastAction != app.ActionApprove {
		t.Errorf("action = %q, want approve", svc.lastAction)
	}

	rec = do(t, h, http.MethodPost, "/api/orders/3/pack", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("illegal pack: status = %d, want 409", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != "INVALID_TRANSITION" {
		t.Errorf("code = %q, want INVALID_TRANSITION", resp.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/orders/3/teleport", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown action: status = %d, want 404", rec.Code)
	}
}

func TestReserveOrder_ShortfallCarriesFailedResult(t *testing.T) {
	svc := &stubService{
		reserveErr: fmt.Errorf("%w: variant 1 (SKU-1): required 10, available 7", core.ErrInsufficientStock),
	}
	rec := do(t, newTestServer(svc), http.MethodPost, "/api/orders/9/reserve", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var resp struct {
		Code   string                `json:"code"`
		Error  string                `json:"error"`
		Result app.ReservationResult `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "INSUFFICIENT_STOCK" {
		t.Errorf("code = %q, want INSUFFICIENT_STOCK", resp.Code)
	}
	if resp.Result.Status != core.ReservationFailed {
		t.Errorf("result status = %q, want FAILED", resp.Result.Status)
	}
	if !strings.Contains(resp.Error, "variant 1") {
		t.Errorf("error %q does not name the variant", resp.Error)
	}
}

func TestAdjustStock_ConstraintViolation(t *testing.T) {
	h := newTestServer(&stubService{})

	rec := do(t, h, http.MethodPost, "/api/stock/adjust", `{"warehouse_id":1,"variant_id":1,"quantity_delta":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/stock/adjust", `{"warehouse_id":1,"variant_id":1,"quantity_delta":-11}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestUnclassifiedErrorIsHidden(t *testing.T) {
	svc := &stubService{transferErr: fmt.Errorf("failed to commit: connection reset")}
	rec := do(t, newTestServer(svc), http.MethodPost, "/api/transfers/5/complete", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp := decodeError(t, rec); strings.Contains(resp.Error, "connection reset") {
		t.Errorf("internal detail leaked: %q", resp.Error)
	}
}

func TestLockConflictIsRetryable(t *testing.T) {
	deadlock := fmt.Errorf("transfer 5: error iterating stock records: %w", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	rec := do(t, newTestServer(&stubService{transferErr: deadlock}), http.MethodPost, "/api/transfers/5/complete", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != "CONFLICT" {
		t.Errorf("code = %q, want CONFLICT", resp.Code)
	}
}

func TestRecovererCatchesUnimplemented(t *testing.T) {
	rec := do(t, newTestServer(&stubService{}), http.MethodGet, "/api/warehouses", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	h := newTestServer(&stubService{})

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow-origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow-origin %q for unlisted origin", got)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	big := `{"created_by":"` + strings.Repeat("x", 2<<20) + `"}`
	rec := do(t, newTestServer(&stubService{}), http.MethodPost, "/api/orders", big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}
