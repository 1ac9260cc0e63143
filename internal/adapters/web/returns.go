package web

import (
	"net/http"

	"inventory-ledger/internal/app"
)

func (h *Handler) apiCreateReturn(w http.ResponseWriter, r *http.Request) {
	var req app.CreateReturnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.CreateReturn(r.Context(), req)
	created(h, w, r, result, err)
}

func (h *Handler) apiGetReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetReturn(r.Context(), id)
	respond(h, w, r, result, err)
}

// apiAdjustReturnLines handles POST /api/returns/adjust with a batch of line
// IDs and the target receiving status.
func (h *Handler) apiAdjustReturnLines(w http.ResponseWriter, r *http.Request) {
	var req app.AdjustReturnLinesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.AdjustReturnLines(r.Context(), req)
	respond(h, w, r, result, err)
}
