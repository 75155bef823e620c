package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fjod/go_storefront/internal/checkout"
	"github.com/fjod/go_storefront/internal/coupon"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/payment"
	"github.com/shopspring/decimal"
)

type variantFlags struct {
	color, size, length string
}

func (v *variantFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&v.color, "color", "", "variant color")
	fs.StringVar(&v.size, "size", "", "variant size")
	fs.StringVar(&v.length, "length", "", "variant length")
}

func (v variantFlags) identity() domain.VariantIdentity {
	if v.color == "" && v.size == "" && v.length == "" {
		return domain.NoVariant()
	}
	return domain.Variant(v.color, v.size, v.length)
}

func (a *app) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	productID := fs.String("product", "", "product id")
	qty := fs.Int("qty", 1, "quantity to add")
	var vf variantFlags
	vf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *productID == "" {
		return errors.New("-product is required")
	}

	product, err := a.client.Product(ctx, *productID)
	if err != nil {
		return fmt.Errorf("failed to load product: %w", err)
	}
	res, err := a.cart.AddLine(ctx, product, *qty, vf.identity())
	if err != nil {
		return err
	}
	if w := res.Warning(); w != "" {
		fmt.Println("note:", w)
	}
	fmt.Printf("%s x%d in cart\n", product.Name, res.Quantity)
	return nil
}

func (a *app) remove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	productID := fs.String("product", "", "product id")
	var vf variantFlags
	vf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *productID == "" {
		return errors.New("-product is required")
	}
	return a.cart.RemoveLine(ctx, *productID, vf.identity())
}

func (a *app) show() error {
	snap := a.cart.Snapshot()
	if len(snap.Lines) == 0 {
		fmt.Println("cart is empty")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tVARIANT\tQTY\tPRICE\tTOTAL")
	for _, l := range snap.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			l.Product.Name, variantLabel(l.Variant), l.Quantity, l.UnitPrice.StringFixed(2), l.LineTotal().StringFixed(2))
	}
	fmt.Fprintf(tw, "\t\t\tSUBTOTAL\t%s\n", snap.Subtotal().StringFixed(2))
	if err := tw.Flush(); err != nil {
		return err
	}
	if s := a.agent.Session(); s.Authenticated() {
		fmt.Printf("logged in as %s\n", s.UserID)
	}
	return nil
}

func variantLabel(v domain.VariantIdentity) string {
	if v.IsNone() {
		return "-"
	}
	var parts []string
	for _, p := range []string{v.Color(), v.Size(), v.Length()} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	user := fs.String("user", "", "user id")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *password == "" {
		return errors.New("-user and -password are required")
	}
	session, err := a.client.Login(ctx, *user, *password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := a.agent.Login(ctx, session); err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", session.UserID)
	return a.show()
}

func (a *app) logout(ctx context.Context) error {
	if err := a.agent.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

type checkoutFlags struct {
	addressID string
	address   domain.Address
	save      bool
	method    string
	coupon    string
}

func (a *app) checkout(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	var f checkoutFlags
	fs.StringVar(&f.addressID, "address-id", "", "saved address to ship to (default address when empty)")
	fs.StringVar(&f.address.Name, "name", "", "recipient name for a new address")
	fs.StringVar(&f.address.Phone, "phone", "", "phone for a new address")
	fs.StringVar(&f.address.Line1, "line1", "", "address line 1")
	fs.StringVar(&f.address.Line2, "line2", "", "address line 2")
	fs.StringVar(&f.address.City, "city", "", "city")
	fs.StringVar(&f.address.State, "state", "", "state")
	fs.StringVar(&f.address.Pincode, "pincode", "", "pincode")
	fs.BoolVar(&f.save, "save", false, "save the new address to the address book")
	fs.StringVar(&f.method, "method", "", "payment method: cod or online")
	fs.StringVar(&f.coupon, "coupon", "", "coupon code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !a.agent.Session().Authenticated() {
		return errors.New("log in before checking out")
	}

	o := a.orchestrator()
	if err := o.Start(ctx); err != nil {
		return err
	}

	switch {
	case f.address.Name != "" || f.address.Line1 != "":
		if err := o.UseNewAddress(ctx, f.address, f.save); err != nil {
			return err
		}
	case f.addressID != "":
		if err := o.SelectAddress(f.addressID); err != nil {
			return err
		}
	case o.PreselectedAddressID() != "":
		if err := o.SelectAddress(o.PreselectedAddressID()); err != nil {
			return err
		}
	default:
		return errors.New("no default address; pass -address-id or a new address")
	}

	methods := o.PaymentMethods()
	if len(methods) == 0 {
		return checkout.ErrNoPaymentMethod
	}
	method := domain.PaymentMethod(f.method)
	if method == "" {
		method = methods[0]
	}

	if f.coupon != "" {
		applyCoupon(ctx, o, f.coupon, os.Stdout)
	}
	printTotals(o)

	res, err := o.PlaceOrder(ctx, method)
	switch {
	case errors.Is(err, checkout.ErrPaymentDismissed), errors.Is(err, checkout.ErrGatewayTimeout):
		fmt.Println("payment not completed; your cart is unchanged")
		return nil
	case err != nil:
		if reason := o.Failure(); reason != "" {
			return fmt.Errorf("order failed: %s", reason)
		}
		return err
	}
	fmt.Printf("order %s placed, total %s %s\n", res.OrderID, res.Order.Total.StringFixed(2), res.Order.Currency)
	return nil
}

type couponApplier interface {
	ApplyCoupon(ctx context.Context, code string) (*domain.AppliedCoupon, error)
}

// applyCoupon reports the coupon outcome inline. A coupon that cannot be
// applied for any reason leaves checkout going without one.
func applyCoupon(ctx context.Context, o couponApplier, code string, w io.Writer) bool {
	applied, err := o.ApplyCoupon(ctx, code)
	var rejected *coupon.RejectionError
	switch {
	case errors.As(err, &rejected):
		fmt.Fprintf(w, "coupon not applied: %s\n", rejected.Reason)
	case err != nil:
		fmt.Fprintf(w, "coupon not applied: %v\n", err)
	default:
		fmt.Fprintf(w, "coupon %s: -%s\n", applied.Code, applied.DiscountAmount.StringFixed(2))
		return true
	}
	return false
}

func printTotals(o *checkout.Orchestrator) {
	t := o.Totals()
	row := func(label string, v decimal.Decimal) { fmt.Printf("%-10s %12s\n", label, v.StringFixed(2)) }
	row("subtotal", t.Subtotal)
	row("tax", t.Tax)
	row("shipping", t.Shipping)
	if t.Discount.IsPositive() {
		row("discount", t.Discount.Neg())
	}
	row("total", t.Total)
}

// announcingFlow prints the hosted payment link so the shopper can open it.
type announcingFlow struct {
	*payment.Adapter
}

func (f announcingFlow) Begin(ctx context.Context, amount decimal.Decimal, currency string, prefill payment.Prefill) (*payment.Session, <-chan payment.Outcome, error) {
	s, outcomes, err := f.Adapter.Begin(ctx, amount, currency, prefill)
	if err == nil && s.CheckoutURL != "" {
		fmt.Printf("open %s to pay %s %s\n", s.CheckoutURL, amount.StringFixed(2), currency)
	}
	return s, outcomes, err
}
