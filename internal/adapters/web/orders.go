package web

import (
	"context"
	"errors"
	"net/http"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) apiListOrders(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListOrders(r.Context(), r.URL.Query().Get("status"))
	respond(h, w, r, result, err)
}

func (h *Handler) apiCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req app.CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.CreateOrder(r.Context(), req)
	created(h, w, r, result, err)
}

func (h *Handler) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetOrder(r.Context(), id)
	respond(h, w, r, result, err)
}

// apiTransitionOrder handles POST /api/orders/{id}/{action} for the
// fulfillment transitions.
func (h *Handler) apiTransitionOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	action, err := app.ParseOrderAction(chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
		return
	}
	result, err := h.svc.TransitionOrder(r.Context(), id, action)
	respond(h, w, r, result, err)
}

func (h *Handler) apiReserveOrder(w http.ResponseWriter, r *http.Request) {
	h.reservationAction(w, r, h.svc.ReserveOrder)
}

func (h *Handler) apiRetryReservation(w http.ResponseWriter, r *http.Request) {
	h.reservationAction(w, r, h.svc.RetryReservation)
}

func (h *Handler) apiReleaseOrder(w http.ResponseWriter, r *http.Request) {
	h.reservationAction(w, r, h.svc.ReleaseOrder)
}

func (h *Handler) apiDispatchOrder(w http.ResponseWriter, r *http.Request) {
	h.reservationAction(w, r, h.svc.DispatchOrder)
}

// reservationAction runs a reservation operation. A stock shortfall is
// reported as 409 with the FAILED result attached.
func (h *Handler) reservationAction(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, orderID int) (*app.ReservationResult, error)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := op(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrInsufficientStock) && result != nil {
			h.writeServiceError(w, r, err, result)
			return
		}
		h.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) apiTransferReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		WarehouseID int `json:"warehouse_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.TransferReservation(r.Context(), id, req.WarehouseID)
	respond(h, w, r, result, err)
}
