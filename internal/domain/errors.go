package domain

import "errors"

var (
	ErrUnauthorized = errors.New("unauthorized")

	ErrMissingReason       = errors.New("a reason is required")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidCreditAmount = errors.New("computed credit amount must be greater than zero")
	ErrInvalidQuantity     = errors.New("invalid return quantity")
	ErrInvalidState        = errors.New("invalid state for this action")

	ErrReturnNotFound   = errors.New("return request not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrWalletNotFound   = errors.New("wallet not found")
	ErrPickupNotFound   = errors.New("no return matches this pickup")

	ErrGuestReturnUnsupported = errors.New("store credit cannot be issued for guest orders")
	ErrInsufficientCredits    = errors.New("insufficient store credit")
	ErrOrderNotReturnable     = errors.New("order is not eligible for return")

	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrUnrecognizedPayload = errors.New("unrecognized webhook payload")
)
