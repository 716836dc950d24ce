package event

import (
	"time"

	"boxoffice/entity"

	"github.com/ThreeDotsLabs/watermill"
)

type header struct {
	ID             string    `json:"id"`
	PublishedAt    time.Time `json:"published_at"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func newHeader(idempotencyKey string) header {
	return header{
		ID:             watermill.NewUUID(),
		PublishedAt:    time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
	}
}

type OrderPaid struct {
	Header        header       `json:"header"`
	OrderID       string       `json:"order_id"`
	CheckoutID    string       `json:"checkout_id"`
	BuyerRef      string       `json:"buyer_ref"`
	TransactionID string       `json:"transaction_id"`
	Total         entity.Money `json:"total"`
	TicketCodes   []string     `json:"ticket_codes"`
	StageGroups   []string     `json:"stage_groups"`
}

func NewOrderPaid(order entity.Order, ticketCodes, stageGroups []string) OrderPaid {
	return OrderPaid{
		Header:        newHeader("order-paid-" + order.ID),
		OrderID:       order.ID,
		CheckoutID:    order.CheckoutID,
		BuyerRef:      order.BuyerRef,
		TransactionID: order.TransactionID,
		Total:         order.Breakdown.Total,
		TicketCodes:   ticketCodes,
		StageGroups:   stageGroups,
	}
}

type OrderCancelled struct {
	Header     header `json:"header"`
	OrderID    string `json:"order_id"`
	CheckoutID string `json:"checkout_id"`
	Reason     string `json:"reason"`
}

func NewOrderCancelled(orderID, checkoutID, reason string) OrderCancelled {
	return OrderCancelled{
		Header:     newHeader("order-cancelled-" + orderID),
		OrderID:    orderID,
		CheckoutID: checkoutID,
		Reason:     reason,
	}
}

type StageRevealed struct {
	Header     header `json:"header"`
	StageGroup string `json:"stage_group"`
	TierID     string `json:"tier_id"`
}

func NewStageRevealed(stageGroup, tierID string) StageRevealed {
	return StageRevealed{
		Header:     newHeader("stage-revealed-" + tierID),
		StageGroup: stageGroup,
		TierID:     tierID,
	}
}

type ReservationExpired struct {
	Header    header    `json:"header"`
	SessionID string    `json:"session_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

func NewReservationExpired(session entity.ReservationSession) ReservationExpired {
	return ReservationExpired{
		Header:    newHeader("reservation-expired-" + session.ID),
		SessionID: session.ID,
		ExpiredAt: session.ExpiresAt,
	}
}
