package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type AddressLabel string

const (
	LabelHome   AddressLabel = "Home"
	LabelOffice AddressLabel = "Office"
	LabelOther  AddressLabel = "Other"
)

var ErrInvalidAddress = errors.New("invalid address")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Address is a shipping address. Address (the legacy single-string form) and
// the structured Line fields can stand in for each other, see Normalize.
type Address struct {
	ID        string       `json:"id,omitempty"`
	Name      string       `json:"name" validate:"required"`
	Phone     string       `json:"phone" validate:"required"`
	Line1     string       `json:"line1" validate:"required"`
	Line2     string       `json:"line2,omitempty"`
	Line3     string       `json:"line3,omitempty"`
	City      string       `json:"city" validate:"required"`
	State     string       `json:"state,omitempty"`
	Pincode   string       `json:"pincode" validate:"required"`
	Landmark  string       `json:"landmark,omitempty"`
	Label     AddressLabel `json:"label" validate:"omitempty,oneof=Home Office Other"`
	IsDefault bool         `json:"is_default"`
	Address   string       `json:"address,omitempty"`
}

// AddressError lists the fields that failed validation.
type AddressError struct {
	Fields []string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("invalid address: missing or invalid %s", strings.Join(e.Fields, ", "))
}

func (e *AddressError) Unwrap() error { return ErrInvalidAddress }

// Normalize trims every field and fills the legacy and structured forms from
// each other. The label defaults to Home.
func (a Address) Normalize() Address {
	a.Name = strings.TrimSpace(a.Name)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.Line3 = strings.TrimSpace(a.Line3)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.Pincode = strings.TrimSpace(a.Pincode)
	a.Landmark = strings.TrimSpace(a.Landmark)
	a.Address = strings.TrimSpace(a.Address)

	if a.Line1 == "" && a.Address != "" {
		a.Line1 = a.Address
	}
	if a.Address == "" {
		parts := make([]string, 0, 3)
		for _, l := range []string{a.Line1, a.Line2, a.Line3} {
			if l != "" {
				parts = append(parts, l)
			}
		}
		a.Address = strings.Join(parts, ", ")
	}
	if a.Label == "" {
		a.Label = LabelHome
	}
	return a
}

// Validate checks the required fields name, phone, line1, city and pincode on
// the normalized address. No network call is involved.
func (a Address) Validate() error {
	n := a.Normalize()
	err := validate.Struct(n)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return &AddressError{Fields: fields}
}

// DefaultAddress picks the address flagged as default, falling back to the
// first one in the list.
func DefaultAddress(addrs []Address) (Address, bool) {
	if len(addrs) == 0 {
		return Address{}, false
	}
	for _, a := range addrs {
		if a.IsDefault {
			return a, true
		}
	}
	return addrs[0], true
}
