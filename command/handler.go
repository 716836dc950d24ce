package command

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
)

type PaymentRefunder interface {
	Refund(ctx context.Context, transactionID, idempotencyKey string) error
}

type Handler struct {
	payments PaymentRefunder
}

func NewHandler(p PaymentRefunder) Handler {
	return Handler{
		payments: p,
	}
}

func (h Handler) RefundPayment(ctx context.Context, cmd *RefundPayment) error {
	log.FromContext(ctx).WithField("order_id", cmd.OrderID).Info("Refunding payment")

	if err := h.payments.Refund(ctx, cmd.TransactionID, cmd.Header.IdempotencyKey); err != nil {
		return fmt.Errorf("refunding payment for order %s: %w", cmd.OrderID, err)
	}

	return nil
}
