package entity

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (m Money) Times(quantity int) Money {
	return Money{
		Amount:   m.Amount.Mul(decimal.NewFromInt(int64(quantity))),
		Currency: m.Currency,
	}
}

// TicketTier is a sellable class of ticket for one event function.
// Tiers sharing a StageGroup are revealed in StageOrder as earlier ones sell out.
type TicketTier struct {
	ID              string     `json:"tier_id"`
	EventFunctionID string     `json:"event_function_id"`
	Name            string     `json:"name"`
	Quantity        int        `json:"quantity"`
	QuantitySold    int        `json:"quantity_sold"`
	Price           Money      `json:"price"`
	Hidden          bool       `json:"hidden"`
	StageGroup      string     `json:"stage_group,omitempty"`
	StageOrder      int        `json:"stage_order"`
	SalesStart      *time.Time `json:"sales_start,omitempty"`
	SalesEnd        *time.Time `json:"sales_end,omitempty"`
}

func (t TicketTier) SoldOut() bool {
	return t.QuantitySold >= t.Quantity
}

func (t TicketTier) Staged() bool {
	return t.StageGroup != ""
}

func (t TicketTier) OnSale(now time.Time) bool {
	if t.SalesStart != nil && now.Before(*t.SalesStart) {
		return false
	}
	if t.SalesEnd != nil && !now.Before(*t.SalesEnd) {
		return false
	}
	return true
}

// Selection maps tier IDs to requested quantities.
type Selection map[string]int

// TierIDs returns the selected tier IDs in a stable order, so that
// concurrent buyers acquire holds in the same sequence.
func (s Selection) TierIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s Selection) Units() int {
	var n int
	for _, q := range s {
		n += q
	}
	return n
}

type SessionStatus string

const (
	SessionHeld      SessionStatus = "held"
	SessionCommitted SessionStatus = "committed"
	SessionReleased  SessionStatus = "released"
	SessionExpired   SessionStatus = "expired"
)

type HoldLine struct {
	TierID   string `json:"tier_id"`
	Quantity int    `json:"quantity"`
	Token    string `json:"token"`
}

type ReservationSession struct {
	ID        string        `json:"session_id"`
	Lines     []HoldLine    `json:"lines"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

func (s ReservationSession) Overdue(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

type OrderLine struct {
	TierID    string `json:"tier_id"`
	TierName  string `json:"tier_name"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
}

type Breakdown struct {
	Subtotal   Money `json:"subtotal"`
	ServiceFee Money `json:"service_fee"`
	Total      Money `json:"total"`
}

type Order struct {
	ID              string      `json:"order_id"`
	CheckoutID      string      `json:"checkout_id"`
	EventFunctionID string      `json:"event_function_id"`
	BuyerRef        string      `json:"buyer_ref"`
	Status          OrderStatus `json:"status"`
	Lines           []OrderLine `json:"lines"`
	Breakdown       Breakdown   `json:"breakdown"`
	TransactionID   string      `json:"transaction_id,omitempty"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

type TicketStatus string

const (
	TicketAvailable TicketStatus = "available"
	TicketUsed      TicketStatus = "used"
)

// IssuedTicket is an admission credential. OrderID is empty for invitations.
type IssuedTicket struct {
	Code     string       `json:"code"`
	TierID   string       `json:"tier_id"`
	OrderID  string       `json:"order_id,omitempty"`
	Status   TicketStatus `json:"status"`
	IssuedAt time.Time    `json:"issued_at"`
}
