// Package metrics declares the Prometheus collectors shared by the storefront
// and the backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Checkout outcomes. Dismissed and abandoned are not failures.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDismissed = "dismissed"
	OutcomeAbandoned = "abandoned"
)

type Metrics struct {
	CheckoutOutcomes *prometheus.CounterVec
	OutboxPending    prometheus.Gauge
	SyncFailures     *prometheus.CounterVec
	OrdersCreated    prometheus.Counter
	StockClamped     prometheus.Counter
}

// New builds the collectors and registers them on reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckoutOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_outcomes_total",
			Help: "Checkout attempts by terminal outcome.",
		}, []string{"outcome"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cart_outbox_pending",
			Help: "Cart mutations waiting to be pushed to the backend.",
		}),
		SyncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_sync_failures_total",
			Help: "Failed cart sync operations by stage.",
		}, []string{"stage"}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders persisted by the order service.",
		}),
		StockClamped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_stock_clamped_total",
			Help: "Add-to-cart requests clamped to known stock.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CheckoutOutcomes, m.OutboxPending, m.SyncFailures, m.OrdersCreated, m.StockClamped)
	}
	return m
}

// Nop returns unregistered collectors, for tests and optional wiring.
func Nop() *Metrics {
	return New(nil)
}
