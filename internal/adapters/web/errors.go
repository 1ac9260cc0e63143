package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"inventory-ledger/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
	// Body carries a partial result alongside the error, e.g. a FAILED reservation.
	Body any `json:"result,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorBody(w, r, message, code, status, nil)
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, message, code string, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
		Body:      body,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// classify maps a ledger error category to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, core.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, core.ErrConstraintViolation):
		return http.StatusUnprocessableEntity, "CONSTRAINT_VIOLATION"
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest, "BAD_REQUEST"
	case core.IsConflict(err):
		return http.StatusConflict, "CONFLICT"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// writeServiceError writes err with the status of its category. Unclassified
// errors are logged and reported without internal detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, body any) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFromContext(r.Context())),
		)
		msg = "internal server error"
	}
	writeErrorBody(w, r, msg, code, status, body)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeCreated writes a JSON response with status 201.
func writeCreated(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(v)
}
