package payments

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedCharger struct {
	status ChargeStatus
	reason string
}

func (f fixedCharger) Charge() (ChargeStatus, string) { return f.status, f.reason }

func newGateway(c Charger) *Gateway {
	return NewGateway(Config{KeyID: "key_1", Secret: "s3cret", PublicURL: "http://shop.test/"}, c, zap.NewNop())
}

func TestChargeStatus(t *testing.T) {
	tests := []struct {
		n      int
		status ChargeStatus
		reason string
	}{
		{0, ChargeSuccess, ""},
		{94, ChargeSuccess, ""},
		{95, ChargeFailed, "unknown reason"},
		{96, ChargeFailed, "insufficient funds"},
		{100, ChargeFailed, "bank unavailable"},
	}
	for _, tt := range tests {
		status, reason := chargeStatus(tt.n)
		assert.Equal(t, tt.status, status, "n=%d", tt.n)
		assert.Equal(t, tt.reason, reason, "n=%d", tt.n)
	}
}

func TestGateway_CreateOrder(t *testing.T) {
	g := newGateway(nil)

	_, err := g.CreateOrder(context.Background(), decimal.Zero, "INR")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	po, err := g.CreateOrder(context.Background(), decimal.NewFromInt(1090), "INR")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(po.ID, "order_"))
	assert.Equal(t, "key_1", po.KeyID)
	assert.Equal(t, "http://shop.test/pay/"+po.ID, po.CheckoutURL)
}

func TestGateway_ChargeAndVerify(t *testing.T) {
	g := newGateway(fixedCharger{status: ChargeSuccess})
	ctx := context.Background()
	po, err := g.CreateOrder(ctx, decimal.NewFromInt(100), "INR")
	require.NoError(t, err)

	info, status, _, err := g.Charge(po.ID)
	require.NoError(t, err)
	assert.Equal(t, ChargeSuccess, status)

	ok, err := g.Verify(ctx, info)
	require.NoError(t, err)
	assert.True(t, ok)

	tampered := info
	tampered.PaymentID = "pay_other"
	ok, err = g.Verify(ctx, tampered)
	require.NoError(t, err)
	assert.False(t, ok)

	forged := info
	forged.Signature = strings.Repeat("0", 64)
	ok, _ = g.Verify(ctx, forged)
	assert.False(t, ok)

	_, _, _, err = g.Charge(po.ID)
	assert.ErrorIs(t, err, ErrAlreadyCharged)
}

func TestGateway_VerifyRejectsSignatureForUncapturedOrder(t *testing.T) {
	g := newGateway(fixedCharger{status: ChargeSuccess})
	ctx := context.Background()
	po, err := g.CreateOrder(ctx, decimal.NewFromInt(100), "INR")
	require.NoError(t, err)

	// correctly signed but never charged
	info := domain.PaymentInfo{GatewayOrderID: po.ID, PaymentID: "pay_x", Signature: g.Sign(po.ID, "pay_x")}
	ok, err := g.Verify(ctx, info)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGateway_CapturedReturnsPaidOrder(t *testing.T) {
	g := newGateway(fixedCharger{status: ChargeSuccess})
	ctx := context.Background()
	po, err := g.CreateOrder(ctx, decimal.RequireFromString("1.00"), "INR")
	require.NoError(t, err)
	info, _, _, err := g.Charge(po.ID)
	require.NoError(t, err)

	paid, ok, err := g.Captured(ctx, info)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, po.ID, paid.ID)
	assert.True(t, paid.Amount.Equal(decimal.RequireFromString("1")))
	assert.Equal(t, "INR", paid.Currency)

	info.PaymentID = "pay_other"
	_, ok, err = g.Captured(ctx, info)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGateway_DeclinedCharge(t *testing.T) {
	g := newGateway(fixedCharger{status: ChargeFailed, reason: "card declined"})
	po, err := g.CreateOrder(context.Background(), decimal.NewFromInt(100), "INR")
	require.NoError(t, err)

	info, status, reason, err := g.Charge(po.ID)
	require.NoError(t, err)
	assert.Equal(t, ChargeFailed, status)
	assert.Equal(t, "card declined", reason)
	assert.Empty(t, info.PaymentID)

	// a declined attempt can be retried
	_, _, _, err = g.Charge(po.ID)
	assert.NoError(t, err)
}

func TestPageHandler(t *testing.T) {
	g := newGateway(fixedCharger{status: ChargeSuccess})
	po, err := g.CreateOrder(context.Background(), decimal.RequireFromString("1090.5"), "INR")
	require.NoError(t, err)
	srv := httptest.NewServer(http.StripPrefix("/pay", g.PageHandler()))
	t.Cleanup(srv.Close)

	cb := "http://127.0.0.1:8090/payments/callback"

	resp, err := http.Get(srv.URL + "/pay/" + po.ID + "?callback=" + url.QueryEscape(cb) + "&name=Asha")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/pay/" + po.ID + "?callback=" + url.QueryEscape("http://evil.test/steal"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.PostForm(srv.URL+"/pay/"+po.ID, url.Values{"callback": {cb}, "action": {"pay"}})
	require.NoError(t, err)
	body := readAll(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="status" value="success"`)
	assert.Contains(t, body, `name="signature"`)

	resp, err = http.PostForm(srv.URL+"/pay/"+po.ID, url.Values{"callback": {cb}, "action": {"cancel"}})
	require.NoError(t, err)
	body = readAll(t, resp)
	assert.Contains(t, body, `value="dismissed"`)

	resp, err = http.Get(srv.URL + "/pay/order_missing?callback=" + url.QueryEscape(cb))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var sb strings.Builder
	_, err := io.Copy(&sb, resp.Body)
	require.NoError(t, err)
	return sb.String()
}
