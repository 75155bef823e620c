package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_storefront/internal/backend/carts"
	"github.com/fjod/go_storefront/internal/backend/catalog"
	"github.com/fjod/go_storefront/internal/backend/orders"
	"github.com/fjod/go_storefront/internal/backend/payments"
	"github.com/fjod/go_storefront/internal/domain"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string, details any) {
	respondJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// handleError maps service errors to HTTP answers. Anything unrecognised is
// logged and reported as a 500 without its message.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var addrErr *domain.AddressError
	var couponErr *orders.CouponRejectedError

	switch {
	case errors.As(err, &addrErr):
		respondError(w, http.StatusBadRequest, "invalid_address", err.Error(), map[string]any{"fields": addrErr.Fields})
	case errors.As(err, &couponErr):
		respondError(w, http.StatusUnprocessableEntity, "coupon_rejected", err.Error(),
			map[string]any{"coupon_code": couponErr.Code, "reason": couponErr.Reason})

	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, payments.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error(), nil)

	case errors.Is(err, carts.ErrUnknownOp),
		errors.Is(err, carts.ErrInvalidMutation),
		errors.Is(err, orders.ErrEmptyOrder),
		errors.Is(err, orders.ErrInvalidQuantity),
		errors.Is(err, orders.ErrInvalidPaymentMethod),
		errors.Is(err, payments.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.Is(err, orders.ErrMissingKey):
		respondError(w, http.StatusBadRequest, "missing_idempotency_key", err.Error(), nil)

	case errors.Is(err, orders.ErrUnknownProduct):
		respondError(w, http.StatusUnprocessableEntity, "unknown_product", err.Error(), nil)
	case errors.Is(err, orders.ErrMethodUnavailable):
		respondError(w, http.StatusUnprocessableEntity, "payment_method_unavailable", err.Error(), nil)
	case errors.Is(err, orders.ErrPaymentNotVerified):
		respondError(w, http.StatusPaymentRequired, "payment_not_verified", err.Error(), nil)
	case errors.Is(err, orders.ErrPaymentMismatch):
		respondError(w, http.StatusPaymentRequired, "payment_mismatch", err.Error(), nil)

	case errors.Is(err, orders.ErrPriceChanged):
		respondError(w, http.StatusConflict, "price_changed", err.Error(), nil)
	case errors.Is(err, orders.ErrOutOfStock):
		respondError(w, http.StatusConflict, "out_of_stock", err.Error(), nil)
	case errors.Is(err, orders.ErrKeyReused):
		respondError(w, http.StatusConflict, "idempotency_key_reused", err.Error(), nil)
	case errors.Is(err, orders.ErrPaymentUsed):
		respondError(w, http.StatusConflict, "payment_already_used", err.Error(), nil)
	case errors.Is(err, carts.ErrVersionConflict),
		errors.Is(err, payments.ErrAlreadyCharged):
		respondError(w, http.StatusConflict, "conflict", err.Error(), nil)

	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out", nil)
	default:
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error", nil)
	}
}

// decode reads a JSON body and validates it. It writes the error answer
// itself and reports whether the handler should go on.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !decodeJSON(w, r, dst) {
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return false
	}
	return true
}

// decodeJSON skips struct validation. Addresses and orders are validated by
// their services after normalisation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", nil)
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
		return false
	}
	return true
}
