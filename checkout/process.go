package checkout

import (
	"context"
	"errors"
	"fmt"

	"boxoffice/entity"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/cenkalti/backoff/v3"
	"github.com/lithammer/shortuuid/v3"
	"github.com/sirupsen/logrus"
)

type ProcessRequest struct {
	CheckoutID  string
	Payment     entity.PaymentInput
	Billing     entity.BillingInfo
	AcceptTerms bool
}

type Receipt struct {
	OrderID       string
	TransactionID string
	Tickets       []entity.IssuedTicket
}

// Process charges the buyer and turns the reservation into issued tickets.
// The reservation is checked before the gateway is called, and any failure
// after it releases the hold and cancels the order. A charge that cannot be
// matched by a committed sale is refunded and reported as
// ErrInconsistentCommit.
func (o *Orchestrator) Process(ctx context.Context, req ProcessRequest) (Receipt, error) {
	if !req.AcceptTerms {
		return Receipt{}, entity.ErrTermsNotAccepted
	}

	c, err := o.store.Get(ctx, req.CheckoutID)
	if errors.Is(err, entity.ErrCheckoutNotFound) {
		// A checkout shares its ID with its reservation session.
		return Receipt{}, fmt.Errorf("%w: %w", entity.ErrSessionNotFound, err)
	}
	if err != nil {
		return Receipt{}, err
	}

	logger := log.FromContext(ctx).WithFields(logrus.Fields{
		"checkout_id": c.ID,
		"order_id":    c.OrderID,
	})

	claimed, err := o.store.Transition(ctx, c.ID, entity.CheckoutReserved, entity.CheckoutCharging)
	if err != nil {
		return Receipt{}, fmt.Errorf("claiming checkout: %w", err)
	}
	if !claimed {
		return Receipt{}, fmt.Errorf("%w: checkout %s is %s", entity.ErrInvalidCheckoutState, c.ID, c.State)
	}
	c.State = entity.CheckoutCharging

	session, err := o.reservations.Get(ctx, c.ID)
	if err == nil && session.Status != entity.SessionHeld {
		err = fmt.Errorf("%w: session %s is %s", entity.ErrSessionNotFound, c.ID, session.Status)
	}
	if err != nil {
		logger.WithError(err).Info("Reservation no longer held, skipping payment")
		return Receipt{}, o.fail(ctx, logger, c, err)
	}

	result, err := o.charge(ctx, logger, c, req)
	if err != nil {
		return Receipt{}, o.fail(ctx, logger, c, err)
	}

	if _, err := o.reservations.Commit(ctx, c.ID); err != nil {
		err = fmt.Errorf("%w: committing reservation: %w", entity.ErrInconsistentCommit, err)
		return Receipt{}, o.compensate(ctx, logger, c, result.TransactionID, err)
	}

	tickets := o.issueTickets(c)
	if err := o.fulfil(ctx, c.OrderID, result.TransactionID, tickets); err != nil {
		err = fmt.Errorf("%w: issuing tickets: %w", entity.ErrInconsistentCommit, err)
		return Receipt{}, o.compensate(ctx, logger, c, result.TransactionID, err)
	}

	for _, group := range c.StageGroups {
		if _, err := o.stages.ReevaluateStage(ctx, group); err != nil {
			// The OrderPaid handler evaluates the group again.
			logger.WithError(err).WithField("stage_group", group).Error("Failed to reevaluate stage group")
		}
	}

	codes := make([]string, 0, len(tickets))
	for _, t := range tickets {
		codes = append(codes, t.Code)
	}

	c.State = entity.CheckoutFulfilled
	c.TransactionID = result.TransactionID
	c.TicketCodes = codes
	c.UpdatedAt = o.clock.Now()
	if err := o.store.Save(ctx, c); err != nil {
		logger.WithError(err).Error("Failed to store fulfilled checkout")
	}

	logger.WithField("tickets", len(tickets)).Info("Checkout fulfilled")

	return Receipt{
		OrderID:       c.OrderID,
		TransactionID: result.TransactionID,
		Tickets:       tickets,
	}, nil
}

func (o *Orchestrator) charge(ctx context.Context, logger *logrus.Entry, c entity.Checkout, req ProcessRequest) (entity.ChargeResult, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, o.gatewayTimeout)
	defer cancel()

	result, err := o.gateway.Charge(chargeCtx, entity.ChargeRequest{
		IdempotencyKey: c.OrderID,
		OrderID:        c.OrderID,
		Amount:         c.Breakdown.Total,
		Payment:        req.Payment,
		Billing:        req.Billing,
	})
	if err != nil {
		reason := "gateway_error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "gateway_timeout"
		}
		logger.WithError(err).Warn("Payment gateway unavailable")

		return entity.ChargeResult{}, &entity.PaymentDeclinedError{
			Reason: reason,
			Err:    fmt.Errorf("%w: %w", entity.ErrGatewayUnavailable, err),
		}
	}

	if !result.Approved {
		logger.WithFields(logrus.Fields{
			"status": result.Status,
			"reason": result.FailureReason,
		}).Info("Payment declined")

		return entity.ChargeResult{}, &entity.PaymentDeclinedError{
			Status: result.Status,
			Reason: result.FailureReason,
		}
	}

	return result, nil
}

func (o *Orchestrator) issueTickets(c entity.Checkout) []entity.IssuedTicket {
	now := o.clock.Now()

	var tickets []entity.IssuedTicket
	for _, line := range c.Lines {
		for i := 0; i < line.Quantity; i++ {
			tickets = append(tickets, entity.IssuedTicket{
				Code:     shortuuid.New(),
				TierID:   line.TierID,
				OrderID:  c.OrderID,
				Status:   entity.TicketAvailable,
				IssuedAt: now,
			})
		}
	}
	return tickets
}

func (o *Orchestrator) fulfil(ctx context.Context, orderID, transactionID string, tickets []entity.IssuedTicket) error {
	op := func() error {
		err := o.orders.Fulfil(ctx, orderID, transactionID, tickets)
		if errors.Is(err, entity.ErrOrderNotPending) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(op, backoff.WithContext(o.newBackOff(), ctx))
}

// fail ends a checkout that never committed: the hold goes back to the pool
// and the order is cancelled with the failure's reason code.
func (o *Orchestrator) fail(ctx context.Context, logger *logrus.Entry, c entity.Checkout, cause error) error {
	reason := entity.ReasonCode(cause)

	if err := o.reservations.Release(ctx, c.ID); err != nil && !errors.Is(err, entity.ErrSessionNotFound) {
		logger.WithError(err).Error("Failed to release reservation")
	}

	if err := o.orders.Cancel(ctx, c.OrderID, reason); err != nil {
		logger.WithError(err).Error("Failed to cancel order")
	}

	c.State = entity.CheckoutFailed
	c.FailureReason = reason
	c.UpdatedAt = o.clock.Now()
	if err := o.store.Save(ctx, c); err != nil {
		logger.WithError(err).Error("Failed to store failed checkout")
	}

	return cause
}

// compensate undoes a charge whose sale could not be completed.
func (o *Orchestrator) compensate(ctx context.Context, logger *logrus.Entry, c entity.Checkout, transactionID string, cause error) error {
	logger.WithError(cause).WithField("transaction_id", transactionID).Error("Inconsistent commit, compensating")

	if err := o.reservations.Compensate(ctx, c.ID); err != nil && !errors.Is(err, entity.ErrSessionNotFound) {
		logger.WithError(err).Error("Failed to compensate reservation")
	}

	if err := o.refunds.RequestRefund(ctx, c.OrderID, transactionID); err != nil {
		logger.WithError(err).Error("Failed to request refund")
	}

	c.TransactionID = transactionID
	return o.fail(ctx, logger, c, cause)
}

// Cancel abandons a reserved checkout. Cancelling a failed checkout is a
// no-op; a checkout being charged or already fulfilled cannot be cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, checkoutID string) error {
	c, err := o.store.Get(ctx, checkoutID)
	if err != nil {
		return err
	}

	if c.State == entity.CheckoutFailed {
		return nil
	}

	claimed, err := o.store.Transition(ctx, c.ID, entity.CheckoutReserved, entity.CheckoutFailed)
	if err != nil {
		return fmt.Errorf("claiming checkout: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: checkout %s is %s", entity.ErrInvalidCheckoutState, c.ID, c.State)
	}

	logger := log.FromContext(ctx).WithFields(logrus.Fields{
		"checkout_id": c.ID,
		"order_id":    c.OrderID,
	})
	logger.Info("Checkout cancelled by buyer")

	if err := o.reservations.Release(ctx, c.ID); err != nil && !errors.Is(err, entity.ErrSessionNotFound) {
		return fmt.Errorf("releasing reservation: %w", err)
	}

	if err := o.orders.Cancel(ctx, c.OrderID, entity.ReasonCancelledByBuyer); err != nil {
		return fmt.Errorf("cancelling order: %w", err)
	}

	c.State = entity.CheckoutFailed
	c.FailureReason = entity.ReasonCancelledByBuyer
	c.UpdatedAt = o.clock.Now()
	if err := o.store.Save(ctx, c); err != nil {
		return fmt.Errorf("storing checkout: %w", err)
	}

	return nil
}
