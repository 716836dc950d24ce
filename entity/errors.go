package entity

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrSessionExpired        = errors.New("reservation session expired")
	ErrSessionNotFound       = errors.New("reservation session not found")
	ErrPaymentDeclined       = errors.New("payment declined")
	ErrGatewayUnavailable    = errors.New("payment gateway unavailable")
	ErrInconsistentCommit    = errors.New("inconsistent commit")
	ErrInvalidSelection      = errors.New("invalid selection")
	ErrTermsNotAccepted      = errors.New("terms not accepted")
	ErrTierNotFound          = errors.New("ticket tier not found")
	ErrHoldNotFound          = errors.New("hold not found")
	ErrHoldReleased          = errors.New("hold already released")
	ErrOrderNotPending       = errors.New("order is not pending")
	ErrCheckoutNotFound      = errors.New("checkout not found")
	ErrInvalidCheckoutState  = errors.New("invalid checkout state")
)

type InsufficientInventoryError struct {
	TierID    string
	Available int
	Requested int
}

func (e InsufficientInventoryError) Error() string {
	return fmt.Sprintf("not enough tickets for tier %s: tickets available %d, tickets requested %d", e.TierID, e.Available, e.Requested)
}

func (e InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

// PaymentDeclinedError carries the gateway status and failure reason of a
// charge that did not go through. Err holds the transport error, if any.
type PaymentDeclinedError struct {
	Status string
	Reason string
	Err    error
}

func (e *PaymentDeclinedError) Error() string {
	msg := "payment declined"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PaymentDeclinedError) Is(target error) bool {
	return target == ErrPaymentDeclined
}

func (e *PaymentDeclinedError) Unwrap() error {
	return e.Err
}

const (
	ReasonInsufficientInventory = "insufficient_inventory"
	ReasonSessionExpired        = "session_expired"
	ReasonSessionNotFound       = "session_not_found"
	ReasonPaymentDeclined       = "payment_declined"
	ReasonInconsistentCommit    = "inconsistent_commit"
	ReasonInvalidSelection      = "invalid_selection"
	ReasonTermsNotAccepted      = "terms_not_accepted"
	ReasonCheckoutNotFound      = "checkout_not_found"
	ReasonInvalidCheckoutState  = "invalid_checkout_state"
	ReasonInternal              = "internal_error"
	ReasonCancelledByBuyer      = "cancelled_by_buyer"
)

// ReasonCode maps err to the stable code reported to buyers and stored on
// cancelled orders. The order of checks matters: an inconsistent commit
// may wrap an expiry or a declined charge.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInconsistentCommit):
		return ReasonInconsistentCommit
	case errors.Is(err, ErrPaymentDeclined), errors.Is(err, ErrGatewayUnavailable):
		return ReasonPaymentDeclined
	case errors.Is(err, ErrInsufficientInventory):
		return ReasonInsufficientInventory
	case errors.Is(err, ErrSessionExpired):
		return ReasonSessionExpired
	case errors.Is(err, ErrSessionNotFound):
		return ReasonSessionNotFound
	case errors.Is(err, ErrInvalidSelection), errors.Is(err, ErrTierNotFound):
		return ReasonInvalidSelection
	case errors.Is(err, ErrTermsNotAccepted):
		return ReasonTermsNotAccepted
	case errors.Is(err, ErrCheckoutNotFound):
		return ReasonCheckoutNotFound
	case errors.Is(err, ErrInvalidCheckoutState):
		return ReasonInvalidCheckoutState
	default:
		return ReasonInternal
	}
}
