package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// VariantIdentity distinguishes otherwise identical cart lines of one product.
// It is either absent (NoVariant) or a color/size/length triple; any field of
// the triple may be empty. An absent identity never equals a present one, even
// when the present triple is all empty.
type VariantIdentity struct {
	present bool
	color   string
	size    string
	length  string
}

func NoVariant() VariantIdentity {
	return VariantIdentity{}
}

func Variant(color, size, length string) VariantIdentity {
	return VariantIdentity{present: true, color: color, size: size, length: length}
}

func (v VariantIdentity) IsNone() bool   { return !v.present }
func (v VariantIdentity) Color() string  { return v.color }
func (v VariantIdentity) Size() string   { return v.size }
func (v VariantIdentity) Length() string { return v.length }

func (v VariantIdentity) Equal(o VariantIdentity) bool {
	if v.present != o.present {
		return false
	}
	if !v.present {
		return true
	}
	return v.color == o.color && v.size == o.size && v.length == o.length
}

// Key is a stable map key for the identity.
func (v VariantIdentity) Key() string {
	if !v.present {
		return "-"
	}
	return fmt.Sprintf("%q|%q|%q", v.color, v.size, v.length)
}

func (v VariantIdentity) String() string {
	if !v.present {
		return "none"
	}
	return fmt.Sprintf("{color:%s size:%s length:%s}", v.color, v.size, v.length)
}

type variantJSON struct {
	Color  string `json:"color,omitempty"`
	Size   string `json:"size,omitempty"`
	Length string `json:"length,omitempty"`
}

func (v VariantIdentity) MarshalJSON() ([]byte, error) {
	if !v.present {
		return []byte("null"), nil
	}
	return json.Marshal(variantJSON{Color: v.color, Size: v.size, Length: v.length})
}

func (v *VariantIdentity) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = NoVariant()
		return nil
	}
	var raw variantJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode variant identity: %w", err)
	}
	*v = Variant(raw.Color, raw.Size, raw.Length)
	return nil
}
