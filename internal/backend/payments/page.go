package payments

import (
	"errors"
	"html/template"
	"net"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var pageTmpl = template.Must(template.New("checkout").Parse(`<!doctype html>
<html>
<head><title>Pay {{.Order.Amount.StringFixed 2}} {{.Order.Currency}}</title></head>
<body>
<h1>Pay {{.Order.Amount.StringFixed 2}} {{.Order.Currency}}</h1>
{{if .Name}}<p>Paying as {{.Name}}{{if .Phone}} ({{.Phone}}){{end}}</p>{{end}}
<form method="post" action="/pay/{{.Order.ID}}">
<input type="hidden" name="callback" value="{{.Callback}}">
<button type="submit" name="action" value="pay">Pay now</button>
<button type="submit" name="action" value="cancel">Cancel</button>
</form>
</body>
</html>`))

var resultTmpl = template.Must(template.New("result").Parse(`<!doctype html>
<html>
<body onload="document.forms[0].submit()">
<p>Returning to the store…</p>
<form method="post" action="{{.Callback}}">
<input type="hidden" name="order_id" value="{{.OrderID}}">
<input type="hidden" name="status" value="{{.Status}}">
{{if .PaymentID}}<input type="hidden" name="payment_id" value="{{.PaymentID}}">
<input type="hidden" name="signature" value="{{.Signature}}">{{end}}
{{if .Reason}}<input type="hidden" name="reason" value="{{.Reason}}">{{end}}
<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>`))

type resultView struct {
	Callback  string
	OrderID   string
	Status    string
	PaymentID string
	Signature string
	Reason    string
}

// PageHandler serves the hosted checkout page at /pay/{orderID}. The result
// is posted back to the callback URL the client supplied, which must be on a
// loopback address.
func (g *Gateway) PageHandler() http.Handler {
	r := chi.NewRouter()
	r.Get("/{orderID}", g.showPage)
	r.Post("/{orderID}", g.submitPage)
	return r
}

func (g *Gateway) showPage(w http.ResponseWriter, r *http.Request) {
	o, ok := g.Order(chi.URLParam(r, "orderID"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	callback := r.URL.Query().Get("callback")
	if err := checkCallback(callback); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := pageTmpl.Execute(w, map[string]any{
		"Order":    o,
		"Callback": callback,
		"Name":     r.URL.Query().Get("name"),
		"Phone":    r.URL.Query().Get("phone"),
	})
	if err != nil {
		g.log.Error("render checkout page", zap.Error(err))
	}
}

func (g *Gateway) submitPage(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	callback := r.PostForm.Get("callback")
	if err := checkCallback(callback); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view := resultView{Callback: callback, OrderID: orderID}
	switch r.PostForm.Get("action") {
	case "cancel":
		view.Status = "dismissed"
	case "pay":
		info, status, reason, err := g.Charge(orderID)
		switch {
		case errors.Is(err, ErrOrderNotFound):
			http.NotFound(w, r)
			return
		case errors.Is(err, ErrAlreadyCharged):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case err != nil:
			http.Error(w, "charge failed", http.StatusInternalServerError)
			return
		}
		view.Status = string(status)
		view.PaymentID = info.PaymentID
		view.Signature = info.Signature
		view.Reason = reason
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := resultTmpl.Execute(w, view); err != nil {
		g.log.Error("render payment result", zap.Error(err))
	}
}

func checkCallback(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return errors.New("callback url is required")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("callback url must be http(s)")
	}
	host := u.Hostname()
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return errors.New("callback url must point at a loopback address")
}
