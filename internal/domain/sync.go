package domain

import "time"

type CartOp string

const (
	CartOpMerge  CartOp = "merge"
	CartOpAdd    CartOp = "add"
	CartOpSet    CartOp = "set"
	CartOpRemove CartOp = "remove"
	CartOpClear  CartOp = "clear"
)

// LineQuantity identifies a line and carries a quantity. For add it is a
// delta, for set and merge it is the quantity to apply.
type LineQuantity struct {
	ProductID string          `json:"product_id"`
	Variant   VariantIdentity `json:"variant"`
	Quantity  int             `json:"quantity"`
}

// CartMutation is one client change pushed to the server. ID lets the server
// drop a mutation it has already applied.
type CartMutation struct {
	ID    string         `json:"id"`
	Op    CartOp         `json:"op"`
	Line  *LineQuantity  `json:"line,omitempty"`
	Lines []LineQuantity `json:"lines,omitempty"`
}

// ServerCart is the authoritative cart held by the backend. Version grows on
// every write.
type ServerCart struct {
	UserID    string     `json:"user_id"`
	Version   int64      `json:"version"`
	Lines     []CartLine `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}
