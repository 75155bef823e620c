// Package cart holds the canonical client-side cart. Every mutation is
// persisted locally before it is acknowledged; consumers subscribe to changes
// instead of reaching into shared state.
package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotHydrated    = errors.New("cart is not hydrated yet")
	ErrInvalidProduct = errors.New("product id is required")
	ErrLineNotFound   = errors.New("line not found in cart")
)

// Service is the cart as seen by the rest of the storefront.
type Service interface {
	AddLine(ctx context.Context, product domain.Product, quantity int, variant domain.VariantIdentity) (AddResult, error)
	SetQuantity(ctx context.Context, product domain.Product, quantity int, variant domain.VariantIdentity) (AddResult, error)
	RemoveLine(ctx context.Context, productID string, variant domain.VariantIdentity) error
	Clear(ctx context.Context) error
	Replace(ctx context.Context, lines []domain.CartLine) error
	Reset(ctx context.Context) error
	Snapshot() Snapshot
	OnChange(l Listener) (unsubscribe func())
}

// Persister is the durable local storage behind the cart.
type Persister interface {
	LoadCart(ctx context.Context) ([]domain.CartLine, error)
	SaveCart(ctx context.Context, lines []domain.CartLine) error
}

type MutationKind string

const (
	MutationAdd     MutationKind = "add"
	MutationSet     MutationKind = "set"
	MutationRemove  MutationKind = "remove"
	MutationClear   MutationKind = "clear"
	MutationReplace MutationKind = "replace"
	MutationReset   MutationKind = "reset"
)

// UserOriginated reports whether the mutation came from the shopper rather
// than from reconciliation with the server or a session change.
func (k MutationKind) UserOriginated() bool {
	switch k {
	case MutationAdd, MutationSet, MutationRemove, MutationClear:
		return true
	default:
		return false
	}
}

// Mutation describes one applied change. For add and set, Line is the
// resulting line, or nil when the line was deleted.
type Mutation struct {
	Kind      MutationKind
	ProductID string
	Variant   domain.VariantIdentity
	Delta     int
	Line      *domain.CartLine
}

type Change struct {
	Mutation Mutation
	Snapshot Snapshot
}

// Listener is called after a mutation has been persisted. It must not mutate
// the cart synchronously.
type Listener func(Change)

type Snapshot struct {
	Lines    []domain.CartLine
	Hydrated bool
}

func (s Snapshot) Subtotal() decimal.Decimal {
	return domain.Subtotal(s.Lines)
}

// Count is the total number of units in the cart.
func (s Snapshot) Count() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

func (s Snapshot) Line(productID string, v domain.VariantIdentity) (domain.CartLine, bool) {
	for _, l := range s.Lines {
		if l.Matches(productID, v) {
			return l, true
		}
	}
	return domain.CartLine{}, false
}

func (s Snapshot) Empty() bool {
	return len(s.Lines) == 0
}

// AddResult tells the caller what actually happened to a requested quantity.
type AddResult struct {
	Requested int
	Added     int
	Quantity  int
	Stock     int
	Clamped   bool
}

// Warning is the soft, user-facing message for a clamped request. It is empty
// when the request was applied in full.
func (r AddResult) Warning() string {
	if !r.Clamped {
		return ""
	}
	if r.Added > 0 {
		return fmt.Sprintf("only %d added", r.Added)
	}
	return fmt.Sprintf("only %d available, all already in cart", r.Stock)
}
