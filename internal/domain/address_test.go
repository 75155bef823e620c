package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAddress() Address {
	return Address{
		Name:    "Asha",
		Phone:   "9999999999",
		Line1:   "12 MG Road",
		City:    "Pune",
		Pincode: "411001",
	}
}

func TestAddress_Validate(t *testing.T) {
	require.NoError(t, validAddress().Validate())

	a := validAddress()
	a.Phone = "  "
	a.Pincode = ""
	err := a.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidAddress))

	var addrErr *AddressError
	require.ErrorAs(t, err, &addrErr)
	assert.ElementsMatch(t, []string{"phone", "pincode"}, addrErr.Fields)
}

func TestAddress_LegacyForm(t *testing.T) {
	a := Address{
		Name:    "Asha",
		Phone:   "9999999999",
		Address: "Flat 4, Lake View",
		City:    "Pune",
		Pincode: "411001",
	}
	require.NoError(t, a.Validate())

	n := a.Normalize()
	assert.Equal(t, "Flat 4, Lake View", n.Line1)
	assert.Equal(t, LabelHome, n.Label)

	s := validAddress()
	s.Line2 = "Near Park"
	assert.Equal(t, "12 MG Road, Near Park", s.Normalize().Address)
}

func TestAddress_InvalidLabel(t *testing.T) {
	a := validAddress()
	a.Label = "Warehouse"
	var addrErr *AddressError
	require.ErrorAs(t, a.Validate(), &addrErr)
	assert.Equal(t, []string{"label"}, addrErr.Fields)
}

func TestDefaultAddress(t *testing.T) {
	_, ok := DefaultAddress(nil)
	assert.False(t, ok)

	first := validAddress()
	first.ID = "1"
	second := validAddress()
	second.ID = "2"

	got, ok := DefaultAddress([]Address{first, second})
	require.True(t, ok)
	assert.Equal(t, "1", got.ID)

	second.IsDefault = true
	got, _ = DefaultAddress([]Address{first, second})
	assert.Equal(t, "2", got.ID)
}

func TestStoreConfig_PaymentMethods(t *testing.T) {
	assert.Empty(t, StoreConfig{}.PaymentMethods())
	assert.Equal(t, []PaymentMethod{PaymentCOD, PaymentOnline},
		StoreConfig{CODEnabled: true, OnlineEnabled: true}.PaymentMethods())
	assert.False(t, StoreConfig{CODEnabled: true}.Allows(PaymentOnline))
}
