package web

import (
	"net/http"

	"inventory-ledger/internal/app"
)

func (h *Handler) apiListWarehouses(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListWarehouses(r.Context())
	respond(h, w, r, result, err)
}

func (h *Handler) apiCreateWarehouse(w http.ResponseWriter, r *http.Request) {
	var req app.CreateWarehouseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.CreateWarehouse(r.Context(), req)
	created(h, w, r, result, err)
}

func (h *Handler) apiSetDefaultWarehouse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.SetDefaultWarehouse(r.Context(), id)
	respond(h, w, r, result, err)
}

func (h *Handler) apiDeleteWarehouse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteWarehouse(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiUpsertVariant(w http.ResponseWriter, r *http.Request) {
	var req app.UpsertVariantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.UpsertVariant(r.Context(), req)
	respond(h, w, r, result, err)
}

// apiListStock handles GET /api/stock?variant_id=N. Without variant_id every
// stock record is returned.
func (h *Handler) apiListStock(w http.ResponseWriter, r *http.Request) {
	variantID, ok := queryInt(w, r, "variant_id")
	if !ok {
		return
	}
	result, err := h.svc.ListStock(r.Context(), variantID)
	respond(h, w, r, result, err)
}

func (h *Handler) apiAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req app.AdjustStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.AdjustStock(r.Context(), req)
	respond(h, w, r, result, err)
}

func (h *Handler) apiListMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.ListMovements(r.Context(), id)
	respond(h, w, r, result, err)
}

func (h *Handler) apiAuditReservations(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.RunAudit(r.Context(), false)
	respond(h, w, r, result, err)
}

func (h *Handler) apiReconcileReservations(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.RunAudit(r.Context(), true)
	respond(h, w, r, result, err)
}
