package web

import (
	"net/http"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"
)

func (h *Handler) apiListPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListPurchaseOrders(r.Context(), r.URL.Query().Get("status"))
	respond(h, w, r, result, err)
}

func (h *Handler) apiCreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req app.CreatePurchaseOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.CreatePurchaseOrder(r.Context(), req)
	created(h, w, r, result, err)
}

func (h *Handler) apiGetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetPurchaseOrder(r.Context(), id)
	respond(h, w, r, result, err)
}

func (h *Handler) apiUpdatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.UpdatePurchaseOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.UpdatePurchaseOrder(r.Context(), id, req)
	respond(h, w, r, result, err)
}

func (h *Handler) apiMarkPurchaseOrdered(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.MarkPurchaseOrdered(r.Context(), id)
	respond(h, w, r, result, err)
}

func (h *Handler) apiReceivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Receipts []core.ItemReceipt `json:"receipts"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.ReceivePurchaseOrder(r.Context(), id, req.Receipts)
	respond(h, w, r, result, err)
}

func (h *Handler) apiMarkPurchaseReceived(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.MarkPurchaseReceived(r.Context(), id)
	respond(h, w, r, result, err)
}

func (h *Handler) apiCancelPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.CancelPurchaseOrder(r.Context(), id)
	respond(h, w, r, result, err)
}
