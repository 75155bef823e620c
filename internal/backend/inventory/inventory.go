// Package inventory tracks sellable stock per SKU and holds reservations for
// orders being created, so two concurrent orders cannot sell the same unit.
package inventory

import (
	"errors"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
)

var (
	ErrSKUNotFound         = errors.New("sku not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation has expired")
	ErrInvalidStatus       = errors.New("invalid reservation status for this operation")
)

type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusReleased  ReservationStatus = "released"
	StatusExpired   ReservationStatus = "expired"
)

// SKU is the stock keeping key of a product variant. NoVariant maps to the
// product-level SKU.
func SKU(productID string, v domain.VariantIdentity) string {
	if v.IsNone() {
		return productID
	}
	return productID + "#" + v.Key()
}

type Item struct {
	ProductID string
	Variant   domain.VariantIdentity
	Quantity  int
}

type Reservation struct {
	ID        string
	Reference string
	// skus resolved at reservation time, parallel to Items
	skus      []string
	Items     []Item
	Status    ReservationStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

type StockInfo struct {
	SKU      string
	Total    int
	Reserved int
}

func (s StockInfo) Available() int {
	return s.Total - s.Reserved
}
