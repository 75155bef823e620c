package checkout

import "errors"

var (
	ErrEmptyCart          = errors.New("cart is empty, nothing to checkout")
	ErrInvalidTransition  = errors.New("illegal transition of checkout state")
	ErrCheckoutInProgress = errors.New("a checkout attempt is already in progress")
	ErrAddressRequired    = errors.New("a valid shipping address is required")
	ErrAddressNotFound    = errors.New("address not found in address book")
	ErrNoPaymentMethod    = errors.New("no payment method is enabled")
	ErrMethodUnavailable  = errors.New("payment method is not enabled")
	ErrPaymentDismissed   = errors.New("payment was dismissed")
	ErrPaymentFailed      = errors.New("payment failed")
	ErrGatewayTimeout     = errors.New("payment was not completed in time")
	ErrPaymentPending     = errors.New("a verified payment is waiting for its order; retry it unchanged")
)
