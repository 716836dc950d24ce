package entity

import "time"

type CheckoutState string

const (
	CheckoutSelecting CheckoutState = "selecting"
	CheckoutReserved  CheckoutState = "reserved"
	CheckoutCharging  CheckoutState = "charging"
	CheckoutFulfilled CheckoutState = "fulfilled"
	CheckoutFailed    CheckoutState = "failed"
)

// Checkout tracks one buyer's purchase attempt. Its ID is also the ID of
// the reservation session holding its inventory.
type Checkout struct {
	ID              string        `json:"checkout_id"`
	OrderID         string        `json:"order_id"`
	EventFunctionID string        `json:"event_function_id"`
	BuyerRef        string        `json:"buyer_ref"`
	State           CheckoutState `json:"state"`
	Lines           []OrderLine   `json:"lines"`
	Breakdown       Breakdown     `json:"breakdown"`
	StageGroups     []string      `json:"stage_groups,omitempty"`
	ExpiresAt       time.Time     `json:"expires_at"`
	TransactionID   string        `json:"transaction_id,omitempty"`
	TicketCodes     []string      `json:"ticket_codes,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
