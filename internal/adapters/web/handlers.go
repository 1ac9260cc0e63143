package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"inventory-ledger/internal/app"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	logger *zap.Logger
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins []string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Tracing)
	r.Use(Logger(logger))
	r.Use(Recoverer(logger))
	r.Use(CORS(allowedOrigins))

	r.Get("/api/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		// ── Orders and reservations ───────────────────────────────────────────
		r.Get("/api/orders", h.apiListOrders)
		r.Post("/api/orders", h.apiCreateOrder)
		r.Get("/api/orders/{id}", h.apiGetOrder)
		r.Post("/api/orders/{id}/reserve", h.apiReserveOrder)
		r.Post("/api/orders/{id}/retry-reservation", h.apiRetryReservation)
		r.Post("/api/orders/{id}/release", h.apiReleaseOrder)
		r.Post("/api/orders/{id}/dispatch", h.apiDispatchOrder)
		r.Post("/api/orders/{id}/{action}", h.apiTransitionOrder)
		r.Post("/api/reservations/{id}/transfer", h.apiTransferReservation)

		// ── Warehouses and stock ──────────────────────────────────────────────
		r.Get("/api/warehouses", h.apiListWarehouses)
		r.Post("/api/warehouses", h.apiCreateWarehouse)
		r.Post("/api/warehouses/{id}/default", h.apiSetDefaultWarehouse)
		r.Delete("/api/warehouses/{id}", h.apiDeleteWarehouse)
		r.Post("/api/variants", h.apiUpsertVariant)
		r.Get("/api/stock", h.apiListStock)
		r.Post("/api/stock/adjust", h.apiAdjustStock)
		r.Get("/api/stock/{id}/movements", h.apiListMovements)
		r.Get("/api/audit/reservations", h.apiAuditReservations)
		r.Post("/api/audit/reservations/reconcile", h.apiReconcileReservations)

		// ── Transfers ─────────────────────────────────────────────────────────
		r.Get("/api/transfers", h.apiListTransfers)
		r.Post("/api/transfers", h.apiCreateTransfer)
		r.Get("/api/transfers/{id}", h.apiGetTransfer)
		r.Put("/api/transfers/{id}/items", h.apiUpdateTransferItems)
		r.Post("/api/transfers/{id}/in-transit", h.apiTransferInTransit)
		r.Post("/api/transfers/{id}/receive", h.apiReceiveTransfer)
		r.Post("/api/transfers/{id}/complete", h.apiCompleteTransfer)
		r.Post("/api/transfers/{id}/cancel", h.apiCancelTransfer)

		// ── Purchase orders ───────────────────────────────────────────────────
		r.Get("/api/purchase-orders", h.apiListPurchaseOrders)
		r.Post("/api/purchase-orders", h.apiCreatePurchaseOrder)
		r.Get("/api/purchase-orders/{id}", h.apiGetPurchaseOrder)
		r.Put("/api/purchase-orders/{id}", h.apiUpdatePurchaseOrder)
		r.Post("/api/purchase-orders/{id}/ordered", h.apiMarkPurchaseOrdered)
		r.Post("/api/purchase-orders/{id}/receive", h.apiReceivePurchaseOrder)
		r.Post("/api/purchase-orders/{id}/received", h.apiMarkPurchaseReceived)
		r.Post("/api/purchase-orders/{id}/cancel", h.apiCancelPurchaseOrder)

		// ── Returns ───────────────────────────────────────────────────────────
		r.Post("/api/returns", h.apiCreateReturn)
		r.Get("/api/returns/{id}", h.apiGetReturn)
		r.Post("/api/returns/adjust", h.apiAdjustReturnLines)
	})

	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// pathID parses the {id} URL parameter. It writes a 400 and returns false
// when the value is not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeError(w, r, fmt.Sprintf("invalid id %q", raw), "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, r, fmt.Sprintf("invalid %s %q", name, raw), "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// respond writes v or maps err to its HTTP status.
func respond[T any](h *Handler, w http.ResponseWriter, r *http.Request, v T, err error) {
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, v)
}

// created is respond with a 201 on success.
func created[T any](h *Handler, w http.ResponseWriter, r *http.Request, v T, err error) {
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeCreated(w, v)
}
