package trackingapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BearBump/CourierTrack/internal/auth"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/BearBump/CourierTrack/internal/services/tracking"
	"github.com/pkg/errors"
)

// Error codes are part of the wire contract; clients map them back to sentinels.
const (
	CodeInvalidTransition = "invalid_transition"
	CodeAlreadyAssigned   = "already_assigned"
	CodeNotOrderCourier   = "not_order_courier"
	CodeNotOrderCustomer  = "not_order_customer"
	CodeOrderNotFound     = "order_not_found"
	CodeRateLimited       = "rate_limited"
	CodeInvalidRequest    = "invalid_request"
	CodeUnauthorized      = "unauthorized"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", msg)
		msg = ""
	}
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		return http.StatusNotFound, CodeOrderNotFound
	case errors.Is(err, models.ErrAlreadyAssigned):
		return http.StatusConflict, CodeAlreadyAssigned
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, models.ErrNotOrderCourier):
		return http.StatusForbidden, CodeNotOrderCourier
	case errors.Is(err, models.ErrNotOrderCustomer):
		return http.StatusForbidden, CodeNotOrderCustomer
	case errors.Is(err, tracking.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, auth.ErrNoToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, CodeUnauthorized
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
