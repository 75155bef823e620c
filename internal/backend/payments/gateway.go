// Package payments simulates a hosted payment gateway: it issues payment
// orders, runs the hosted checkout page, signs results and verifies them.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrOrderNotFound  = errors.New("payment order not found")
	ErrAlreadyCharged = errors.New("payment order already charged")
)

type ChargeStatus string

const (
	ChargeSuccess ChargeStatus = "success"
	ChargeFailed  ChargeStatus = "failed"
)

// Charger decides the outcome of a charge attempt.
type Charger interface {
	Charge() (ChargeStatus, string)
}

// RandomCharger approves 95% of charges and declines the rest with one of a
// few refusal reasons.
type RandomCharger struct{}

var refusals = []string{
	"unknown reason",
	"insufficient funds",
	"card expired",
	"card declined",
	"suspected fraud",
	"bank unavailable",
}

func (RandomCharger) Charge() (ChargeStatus, string) {
	return chargeStatus(rand.IntN(101))
}

func chargeStatus(n int) (ChargeStatus, string) {
	if n < 95 {
		return ChargeSuccess, ""
	}
	reason := n - 95
	if reason > 5 {
		reason = 0
	}
	return ChargeFailed, refusals[reason]
}

type order struct {
	domain.PaymentOrder
	PaymentID string
	Charged   bool
	Verified  bool
	CreatedAt time.Time
}

type Config struct {
	KeyID     string
	Secret    string
	PublicURL string
}

type Gateway struct {
	cfg     Config
	charger Charger
	log     *zap.Logger

	mu     sync.Mutex
	orders map[string]*order
}

func NewGateway(cfg Config, charger Charger, log *zap.Logger) *Gateway {
	if charger == nil {
		charger = RandomCharger{}
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &Gateway{
		cfg:     cfg,
		charger: charger,
		log:     log,
		orders:  make(map[string]*order),
	}
}

// CreateOrder issues the handle a client-side payment session is bound to.
func (g *Gateway) CreateOrder(_ context.Context, amount decimal.Decimal, currency string) (domain.PaymentOrder, error) {
	if !amount.IsPositive() {
		return domain.PaymentOrder{}, ErrInvalidAmount
	}
	id := "order_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	po := domain.PaymentOrder{
		ID:          id,
		Amount:      amount,
		Currency:    currency,
		KeyID:       g.cfg.KeyID,
		CheckoutURL: fmt.Sprintf("%s/pay/%s", g.cfg.PublicURL, id),
	}

	g.mu.Lock()
	g.orders[id] = &order{PaymentOrder: po, CreatedAt: time.Now()}
	g.mu.Unlock()

	g.log.Info("payment order created", zap.String("order_id", id), zap.String("amount", amount.String()))
	return po, nil
}

func (g *Gateway) Order(id string) (domain.PaymentOrder, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[id]
	if !ok {
		return domain.PaymentOrder{}, false
	}
	return o.PaymentOrder, true
}

// Charge runs one charge attempt against the order. A successful charge
// yields a payment id and its signature.
func (g *Gateway) Charge(orderID string) (domain.PaymentInfo, ChargeStatus, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return domain.PaymentInfo{}, "", "", ErrOrderNotFound
	}
	if o.Charged {
		return domain.PaymentInfo{}, "", "", ErrAlreadyCharged
	}

	status, reason := g.charger.Charge()
	if status != ChargeSuccess {
		g.log.Info("payment declined", zap.String("order_id", orderID), zap.String("reason", reason))
		return domain.PaymentInfo{}, status, reason, nil
	}

	o.Charged = true
	o.PaymentID = "pay_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:14]
	info := domain.PaymentInfo{
		GatewayOrderID: orderID,
		PaymentID:      o.PaymentID,
		Signature:      g.Sign(orderID, o.PaymentID),
	}
	return info, status, "", nil
}

// Sign is hex(HMAC-SHA256(secret, orderID|paymentID)).
func (g *Gateway) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.Secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether info carries a genuine signature for a payment this
// gateway captured. It never errors on a bad signature; that is a false.
func (g *Gateway) Verify(ctx context.Context, info domain.PaymentInfo) (bool, error) {
	_, ok, err := g.Captured(ctx, info)
	return ok, err
}

// Captured verifies info like Verify and also returns the gateway order the
// payment settled, so callers can check what was actually paid.
func (g *Gateway) Captured(_ context.Context, info domain.PaymentInfo) (domain.PaymentOrder, bool, error) {
	if info.GatewayOrderID == "" || info.PaymentID == "" || info.Signature == "" {
		return domain.PaymentOrder{}, false, nil
	}
	want := g.Sign(info.GatewayOrderID, info.PaymentID)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(info.Signature))) {
		g.log.Warn("payment signature mismatch", zap.String("order_id", info.GatewayOrderID))
		return domain.PaymentOrder{}, false, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[info.GatewayOrderID]
	if !ok || !o.Charged || o.PaymentID != info.PaymentID {
		return domain.PaymentOrder{}, false, nil
	}
	o.Verified = true
	return o.PaymentOrder, true, nil
}
