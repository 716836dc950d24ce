package message

import (
	"context"
	"fmt"

	"boxoffice/entity"
	"boxoffice/event"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
)

type StageReevaluator interface {
	ReevaluateStage(ctx context.Context, stageGroup string) ([]string, error)
}

type OrderCanceller interface {
	CancelByCheckout(ctx context.Context, checkoutID, reason string) error
}

type OrderNotifier interface {
	NotifyOrderConfirmed(ctx context.Context, e event.OrderPaid) error
}

type Handler struct {
	stages   StageReevaluator
	orders   OrderCanceller
	notifier OrderNotifier
}

func NewHandler(s StageReevaluator, o OrderCanceller, n OrderNotifier) Handler {
	return Handler{
		stages:   s,
		orders:   o,
		notifier: n,
	}
}

// ReevaluateStagesOnOrderPaid repeats the stage evaluation done right after
// the commit, so a reveal missed by a racing evaluation still happens.
func (h Handler) ReevaluateStagesOnOrderPaid(ctx context.Context, e *event.OrderPaid) error {
	for _, group := range e.StageGroups {
		revealed, err := h.stages.ReevaluateStage(ctx, group)
		if err != nil {
			return fmt.Errorf("reevaluating stage group %s: %w", group, err)
		}
		if len(revealed) > 0 {
			log.FromContext(ctx).WithField("stage_group", group).WithField("revealed", revealed).Info("Revealed tiers after order paid")
		}
	}

	return nil
}

func (h Handler) CancelOrderOnReservationExpired(ctx context.Context, e *event.ReservationExpired) error {
	if err := h.orders.CancelByCheckout(ctx, e.SessionID, entity.ReasonSessionExpired); err != nil {
		return fmt.Errorf("cancelling order for expired reservation %s: %w", e.SessionID, err)
	}

	return nil
}

func (h Handler) NotifyOrderConfirmed(ctx context.Context, e *event.OrderPaid) error {
	if err := h.notifier.NotifyOrderConfirmed(ctx, *e); err != nil {
		return fmt.Errorf("notifying order confirmed: %w", err)
	}

	return nil
}
