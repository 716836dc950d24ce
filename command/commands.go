package command

import (
	"context"
	"fmt"
	"time"

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

// RefundPayment returns a captured charge to the buyer after a checkout
// could not be fulfilled.
type RefundPayment struct {
	Header        header `json:"header"`
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
}

func NewRefundPayment(orderID, transactionID string) RefundPayment {
	return RefundPayment{
		Header:        newHeader("refund-" + orderID),
		OrderID:       orderID,
		TransactionID: transactionID,
	}
}

type Sender interface {
	Send(ctx context.Context, cmd any) error
}

// Refunds queues refunds on the command bus so they are retried until the
// gateway accepts them.
type Refunds struct {
	sender Sender
}

func NewRefunds(s Sender) Refunds {
	return Refunds{
		sender: s,
	}
}

func (r Refunds) RequestRefund(ctx context.Context, orderID, transactionID string) error {
	if err := r.sender.Send(ctx, NewRefundPayment(orderID, transactionID)); err != nil {
		return fmt.Errorf("sending refund command: %w", err)
	}
	return nil
}
