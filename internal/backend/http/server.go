// Package http is the backend REST API the storefront talks to.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_storefront/internal/backend/orders"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Catalog interface {
	Product(ctx context.Context, id string) (domain.Product, error)
	Products(ctx context.Context) ([]domain.Product, error)
}

type Carts interface {
	Get(ctx context.Context, userID string) (domain.ServerCart, error)
	Merge(ctx context.Context, userID string, m domain.CartMutation) (domain.ServerCart, error)
	Apply(ctx context.Context, userID string, m domain.CartMutation) (domain.ServerCart, error)
}

type Addresses interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Create(ctx context.Context, userID string, a domain.Address) (domain.Address, error)
}

type Coupons interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (domain.CouponVerdict, error)
}

type Payments interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency string) (domain.PaymentOrder, error)
	Verify(ctx context.Context, info domain.PaymentInfo) (bool, error)
	PageHandler() http.Handler
}

type Orders interface {
	Create(ctx context.Context, userID, key string, req domain.Order) (domain.OrderConfirmation, error)
	Get(ctx context.Context, userID, id string) (*orders.Record, error)
	List(ctx context.Context, userID string) ([]orders.Record, error)
}

type Deps struct {
	Catalog   Catalog
	Carts     Carts
	Addresses Addresses
	Coupons   Coupons
	Payments  Payments
	Orders    Orders
	Store     domain.StoreConfig
	Tokens    *Tokens
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

type Options struct {
	RequestTimeout time.Duration
	MaxBodySize    int64
}

type Server struct {
	Deps
	opts     Options
	validate *validator.Validate
	log      *zap.Logger
}

func NewServer(deps Deps, opts Options, log *zap.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{
		Deps:     deps,
		opts:     opts,
		validate: validator.New(),
		log:      log,
	}
}

// Routes builds the router. The returned handler is wrapped for tracing.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))
	r.Use(MaxBodySize(s.opts.MaxBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// hosted payment page, opened by the shopper's browser
	r.Mount("/pay", s.Payments.PageHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/token", s.login)

		r.Get("/products", s.listProducts)
		r.Get("/products/{id}", s.getProduct)
		r.Get("/store/config", s.storeConfig)

		r.Group(func(r chi.Router) {
			r.Use(s.Tokens.Middleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", s.getCart)
				r.Post("/merge", s.mergeCart)
				r.Post("/mutations", s.applyCartMutation)
			})

			r.Get("/addresses", s.listAddresses)
			r.Post("/addresses", s.createAddress)

			r.Post("/coupons/validate", s.validateCoupon)

			r.Post("/payments/orders", s.createPaymentOrder)
			r.Post("/payments/verify", s.verifyPayment)

			r.Get("/orders", s.listOrders)
			r.Post("/orders", s.createOrder)
			r.Get("/orders/{id}", s.getOrder)
		})
	})

	return otelhttp.NewHandler(r, "backend")
}

func (s *Server) storeConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.Store)
}
