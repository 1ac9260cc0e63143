package web

import (
	"net/http"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"
)

func (h *Handler) apiListTransfers(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListTransfers(r.Context(), r.URL.Query().Get("status"))
	respond(h, w, r, result, err)
}

func (h *Handler) apiCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req app.CreateTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.CreateTransfer(r.Context(), req)
	created(h, w, r, result, err)
}

func (h *Handler) apiGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetTransfer(r.Context(), id)
	respond(h, w, r, result, err)
}

func (h *Handler) apiUpdateTransferItems(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Items []core.TransferItemInput `json:"items"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.UpdateTransferItems(r.Context(), id, req.Items)
	respond(h, w, r, result, err)
}

func (h *Handler) apiTransferInTransit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.MarkTransferInTransit(r.Context(), id)
	respond(h, w, r, result, err)
}

func (h *Handler) apiReceiveTransfer(w http.ResponseWriter, r *http.Request) {
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
	result, err := h.svc.ReceiveTransfer(r.Context(), id, req.Receipts)
	respond(h, w, r, result, err)
}

func (h *Handler) apiCompleteTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.CompleteTransfer(r.Context(), id)
	respond(h, w, r, result, err)
}

func (h *Handler) apiCancelTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.CancelTransfer(r.Context(), id)
	respond(h, w, r, result, err)
}
