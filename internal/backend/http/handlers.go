package http

import (
	"net/http"

	"github.com/fjod/go_storefront/internal/backend/orders"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.Catalog.Products(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.Catalog.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := s.Carts.Get(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (s *Server) mergeCart(w http.ResponseWriter, r *http.Request) {
	var m domain.CartMutation
	if !decodeJSON(w, r, &m) {
		return
	}
	cart, err := s.Carts.Merge(r.Context(), userIDFromContext(r.Context()), m)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (s *Server) applyCartMutation(w http.ResponseWriter, r *http.Request) {
	var m domain.CartMutation
	if !decodeJSON(w, r, &m) {
		return
	}
	cart, err := s.Carts.Apply(r.Context(), userIDFromContext(r.Context()), m)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (s *Server) listAddresses(w http.ResponseWriter, r *http.Request) {
	addrs, err := s.Addresses.List(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if addrs == nil {
		addrs = []domain.Address{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"addresses": addrs})
}

func (s *Server) createAddress(w http.ResponseWriter, r *http.Request) {
	var a domain.Address
	if !decodeJSON(w, r, &a) {
		return
	}
	created, err := s.Addresses.Create(r.Context(), userIDFromContext(r.Context()), a)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

type validateCouponRequestDTO struct {
	Code     string          `json:"code" validate:"required"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// validateCoupon answers 200 for rejections too; the verdict carries the
// reason.
func (s *Server) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequestDTO
	if !s.decode(w, r, &req) {
		return
	}
	verdict, err := s.Coupons.Validate(r.Context(), req.Code, req.Subtotal)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, verdict)
}

type createPaymentOrderRequestDTO struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,len=3"`
}

func (s *Server) createPaymentOrder(w http.ResponseWriter, r *http.Request) {
	var req createPaymentOrderRequestDTO
	if !s.decode(w, r, &req) {
		return
	}
	order, err := s.Payments.CreateOrder(r.Context(), req.Amount, req.Currency)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

type verifyPaymentRequestDTO struct {
	GatewayOrderID string `json:"gateway_order_id" validate:"required"`
	PaymentID      string `json:"payment_id" validate:"required"`
	Signature      string `json:"signature" validate:"required"`
}

func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequestDTO
	if !s.decode(w, r, &req) {
		return
	}
	valid, err := s.Payments.Verify(r.Context(), domain.PaymentInfo(req))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.Order
	if !decodeJSON(w, r, &req) {
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}
	conf, err := s.Orders.Create(r.Context(), userIDFromContext(r.Context()), key, req)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, conf)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Orders.Get(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Orders.List(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if recs == nil {
		recs = []orders.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"orders": recs})
}
