package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

var (
	ErrUnknownSession  = errors.New("no payment session waiting for this order")
	ErrDuplicateOpen   = errors.New("payment session already open for this order")
	ErrHubNotListening = errors.New("callback hub is not listening")
)

// CallbackRequest is what the hosted gateway page posts back.
type CallbackRequest struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
	Reason    string `json:"reason"`
}

func (c CallbackRequest) outcome() (Outcome, error) {
	switch strings.ToLower(c.Status) {
	case "", "success", "captured":
		if c.PaymentID == "" || c.Signature == "" {
			return Outcome{}, errors.New("payment_id and signature are required")
		}
		return Success(domain.PaymentInfo{
			GatewayOrderID: c.OrderID,
			PaymentID:      c.PaymentID,
			Signature:      c.Signature,
		}), nil
	case "failed", "failure":
		reason := c.Reason
		if reason == "" {
			reason = "payment failed"
		}
		return Failure(reason), nil
	case "dismissed", "cancelled":
		return Dismissed(), nil
	default:
		return Outcome{}, fmt.Errorf("unknown status %q", c.Status)
	}
}

// CallbackHub is the loaded gateway integration of the storefront: a small
// local HTTP server that receives the hosted page's redirect and hands the
// outcome to the session waiting for it.
type CallbackHub struct {
	addr string
	log  *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	waiting  map[string]chan Outcome
}

var _ Integration = (*CallbackHub)(nil)

func NewCallbackHub(addr string, log *zap.Logger) *CallbackHub {
	return &CallbackHub{
		addr:    addr,
		log:     log,
		waiting: make(map[string]chan Outcome),
	}
}

// Load starts listening on first use and returns the hub as the integration.
func (h *CallbackHub) Load(context.Context) (Integration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server != nil {
		return h, nil
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("payment callback server stopped", zap.Error(err))
		}
	}()
	h.server = srv
	h.listener = ln
	h.log.Info("payment callback server listening", zap.String("addr", ln.Addr().String()))
	return h, nil
}

// CallbackURL is where the hosted page must post its result.
func (h *CallbackHub) CallbackURL() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return "", ErrHubNotListening
	}
	return "http://" + h.listener.Addr().String() + "/payments/callback", nil
}

func (h *CallbackHub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	srv := h.server
	h.server = nil
	h.listener = nil
	h.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Open registers s and points its checkout URL back at this hub.
func (h *CallbackHub) Open(_ context.Context, s *Session) (<-chan Outcome, error) {
	cb, err := h.CallbackURL()
	if err != nil {
		return nil, err
	}
	if s.CheckoutURL != "" {
		u, err := url.Parse(s.CheckoutURL)
		if err != nil {
			return nil, fmt.Errorf("invalid checkout url: %w", err)
		}
		q := u.Query()
		q.Set("callback", cb)
		if s.Prefill.Name != "" {
			q.Set("name", s.Prefill.Name)
		}
		if s.Prefill.Phone != "" {
			q.Set("phone", s.Prefill.Phone)
		}
		u.RawQuery = q.Encode()
		s.CheckoutURL = u.String()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.waiting[s.OrderID]; ok {
		return nil, ErrDuplicateOpen
	}
	ch := make(chan Outcome, 1)
	h.waiting[s.OrderID] = ch
	return ch, nil
}

// Close forgets a session without delivering anything.
func (h *CallbackHub) Close(orderID string) {
	h.mu.Lock()
	delete(h.waiting, orderID)
	h.mu.Unlock()
}

// Deliver hands o to the session of orderID. Each session receives at most
// one outcome.
func (h *CallbackHub) Deliver(orderID string, o Outcome) error {
	h.mu.Lock()
	ch, ok := h.waiting[orderID]
	delete(h.waiting, orderID)
	h.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	ch <- o
	return nil
}

func (h *CallbackHub) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/payments/callback", h.handleCallback)
	return r
}

func (h *CallbackHub) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		req = CallbackRequest{
			OrderID:   r.PostForm.Get("order_id"),
			Status:    r.PostForm.Get("status"),
			PaymentID: r.PostForm.Get("payment_id"),
			Signature: r.PostForm.Get("signature"),
			Reason:    r.PostForm.Get("reason"),
		}
	}
	if req.OrderID == "" {
		http.Error(w, "order_id is required", http.StatusBadRequest)
		return
	}

	o, err := req.outcome()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Deliver(req.OrderID, o); err != nil {
		h.log.Warn("payment callback for unknown session", zap.String("order_id", req.OrderID))
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	h.log.Info("payment callback received",
		zap.String("order_id", req.OrderID), zap.String("outcome", string(o.Kind)))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Payment received. You can return to the storefront.")
}
