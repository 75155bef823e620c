// Command storefront is a small shell over the storefront cart and checkout
// pipeline: it keeps the cart on disk, syncs it for logged-in users and runs
// checkout against the backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_storefront/internal/api"
	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/cartsync"
	"github.com/fjod/go_storefront/internal/checkout"
	"github.com/fjod/go_storefront/internal/config"
	"github.com/fjod/go_storefront/internal/coupon"
	"github.com/fjod/go_storefront/internal/localstore"
	"github.com/fjod/go_storefront/internal/logger"
	"github.com/fjod/go_storefront/internal/metrics"
	"github.com/fjod/go_storefront/internal/order"
	"github.com/fjod/go_storefront/internal/payment"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const usage = `usage: storefront <command> [flags]

commands:
  add       add a product to the cart
  remove    remove a line from the cart
  show      print the cart
  login     log in and sync the cart
  logout    log out and reset the cart
  checkout  place an order for the cart
`

type app struct {
	cfg     *config.StorefrontConfig
	log     *zap.Logger
	local   *localstore.Store
	cart    *cart.Store
	agent   *cartsync.Agent
	client  *api.Client
	hub     *payment.CallbackHub
	metrics *metrics.Metrics
	reg     *prometheus.Registry
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadStorefront(os.Getenv("STOREFRONT_ENV_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start storefront", zap.Error(err))
		os.Exit(1)
	}
	defer a.close()

	if err := a.dispatch(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		a.close()
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg *config.StorefrontConfig, log *zap.Logger) (*app, error) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	local, err := localstore.Open(cfg.Local.DBPath)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store := cart.NewStore(local, log.Named("cart"), m)
	if err := store.Hydrate(ctx); err != nil {
		local.Close()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, local: local, cart: store, metrics: m, reg: reg}
	// the client reads the token lazily so login and logout take effect at once
	a.client = api.New(api.Config{BaseURL: cfg.Backend.BaseURL, Timeout: cfg.Backend.RequestTimeout},
		api.TokenFunc(func() string { return a.agent.Token() }), log.Named("api"))
	a.agent = cartsync.NewAgent(cartsync.Config{
		DrainInterval: cfg.Sync.DrainInterval,
		BatchSize:     cfg.Sync.BatchSize,
	}, store, local, local, a.client, log.Named("sync"), m)
	if err := a.agent.Start(ctx); err != nil {
		local.Close()
		return nil, err
	}
	a.hub = payment.NewCallbackHub(cfg.Checkout.CallbackAddr, log.Named("payment"))
	return a, nil
}

// close flushes what it can of the outbox and releases local resources. It
// is safe to call twice.
func (a *app) close() {
	if a.local == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.agent.Session().Authenticated() {
		if _, err := a.agent.Drain(ctx); err != nil {
			a.log.Warn("cart changes queued for the next run", zap.Error(err))
		}
	}
	a.agent.Stop()
	if err := a.hub.Shutdown(ctx); err != nil {
		a.log.Warn("failed to stop payment callback server", zap.Error(err))
	}
	if err := a.local.Close(); err != nil {
		a.log.Warn("failed to close local store", zap.Error(err))
	}
	a.local = nil
	if mc := a.cfg.Metrics; mc.PushURL != "" {
		if err := metrics.Push(ctx, mc.PushURL, mc.Job, mc.Instance, a.reg); err != nil {
			a.log.Warn("failed to push metrics", zap.Error(err))
		}
	}
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "add":
		return a.add(ctx, args)
	case "remove":
		return a.remove(ctx, args)
	case "show":
		return a.show()
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "checkout":
		return a.checkout(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) orchestrator() *checkout.Orchestrator {
	adapter := payment.NewAdapter(a.client, a.hub, a.log.Named("payment"))
	return checkout.NewOrchestrator(checkout.Config{GatewayTimeout: a.cfg.Checkout.GatewayTimeout}, checkout.Deps{
		Cart:      a.cart,
		Addresses: a.client,
		Store:     a.client,
		Coupons:   coupon.NewValidator(a.client, a.log.Named("coupon")),
		Payments:  announcingFlow{adapter},
		Orders:    order.NewSubmitter(a.client, a.log.Named("order")),
	}, a.log.Named("checkout"), a.metrics)
}
