package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boxoffice/entity"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ConfirmRequest struct {
	EventFunctionID string
	Selection       entity.Selection
}

type Confirmation struct {
	Token     string
	ExpiresAt time.Time
	Quote     Quote
}

type Quote struct {
	Lines       []entity.OrderLine
	Breakdown   entity.Breakdown
	StageGroups []string
}

// Confirm validates a selection and prices it. Nothing is held: the
// returned token only proves the selection was valid when confirmed.
func (o *Orchestrator) Confirm(ctx context.Context, req ConfirmRequest) (Confirmation, error) {
	quote, err := o.quote(ctx, req.EventFunctionID, req.Selection, true)
	if err != nil {
		return Confirmation{}, err
	}

	token, expiresAt, err := o.tokens.issue(req.EventFunctionID, req.Selection)
	if err != nil {
		return Confirmation{}, err
	}

	return Confirmation{
		Token:     token,
		ExpiresAt: expiresAt,
		Quote:     quote,
	}, nil
}

// quote validates every line of selection and prices it. The availability
// check is a courtesy for early feedback; the ledger decides at hold time.
func (o *Orchestrator) quote(ctx context.Context, eventFunctionID string, selection entity.Selection, checkAvailability bool) (Quote, error) {
	if len(selection) == 0 {
		return Quote{}, fmt.Errorf("%w: empty selection", entity.ErrInvalidSelection)
	}

	now := o.clock.Now()

	var (
		quote    Quote
		currency string
		subtotal = decimal.Zero
		groups   = make(map[string]bool)
	)
	for _, tierID := range selection.TierIDs() {
		quantity := selection[tierID]
		if quantity <= 0 {
			return Quote{}, fmt.Errorf("%w: quantity for tier %s must be positive", entity.ErrInvalidSelection, tierID)
		}

		tier, err := o.catalog.Tier(ctx, tierID)
		if errors.Is(err, entity.ErrTierNotFound) {
			return Quote{}, fmt.Errorf("%w: %w", entity.ErrInvalidSelection, err)
		}
		if err != nil {
			return Quote{}, fmt.Errorf("loading tier %s: %w", tierID, err)
		}

		switch {
		case tier.EventFunctionID != eventFunctionID:
			return Quote{}, fmt.Errorf("%w: tier %s does not belong to event function %s", entity.ErrInvalidSelection, tierID, eventFunctionID)
		case tier.Hidden:
			return Quote{}, fmt.Errorf("%w: tier %s is not on sale", entity.ErrInvalidSelection, tierID)
		case !tier.OnSale(now):
			return Quote{}, fmt.Errorf("%w: tier %s is outside its sales window", entity.ErrInvalidSelection, tierID)
		case currency != "" && tier.Price.Currency != currency:
			return Quote{}, fmt.Errorf("%w: tiers are priced in different currencies", entity.ErrInvalidSelection)
		}
		currency = tier.Price.Currency

		if checkAvailability {
			available, err := o.inventory.AvailabilityOf(ctx, tierID)
			if err != nil {
				return Quote{}, fmt.Errorf("checking availability of tier %s: %w", tierID, err)
			}
			if quantity > available {
				return Quote{}, entity.InsufficientInventoryError{
					TierID:    tierID,
					Available: available,
					Requested: quantity,
				}
			}
		}

		quote.Lines = append(quote.Lines, entity.OrderLine{
			TierID:    tierID,
			TierName:  tier.Name,
			Quantity:  quantity,
			UnitPrice: tier.Price,
		})
		subtotal = subtotal.Add(tier.Price.Times(quantity).Amount)

		if tier.Staged() && !groups[tier.StageGroup] {
			groups[tier.StageGroup] = true
			quote.StageGroups = append(quote.StageGroups, tier.StageGroup)
		}
	}

	fee := subtotal.Mul(o.serviceFeePercent).Div(decimal.NewFromInt(100)).Round(2)
	quote.Breakdown = entity.Breakdown{
		Subtotal:   entity.Money{Amount: subtotal, Currency: currency},
		ServiceFee: entity.Money{Amount: fee, Currency: currency},
		Total:      entity.Money{Amount: subtotal.Add(fee), Currency: currency},
	}

	return quote, nil
}

type ReserveRequest struct {
	ConfirmationToken string
	BuyerRef          string
}

type Reservation struct {
	CheckoutID string
	OrderID    string
	ExpiresAt  time.Time
	Quote      Quote
}

// Reserve holds the confirmed selection and opens a pending order for it.
// No order is created when the hold cannot be taken.
func (o *Orchestrator) Reserve(ctx context.Context, req ReserveRequest) (Reservation, error) {
	claims, err := o.tokens.verify(req.ConfirmationToken)
	if err != nil {
		return Reservation{}, err
	}

	quote, err := o.quote(ctx, claims.EventFunctionID, claims.Selection, false)
	if err != nil {
		return Reservation{}, err
	}

	checkoutID := uuid.NewString()
	logger := log.FromContext(ctx).WithField("checkout_id", checkoutID)

	session, err := o.reservations.Open(ctx, checkoutID, claims.Selection)
	if err != nil {
		return Reservation{}, fmt.Errorf("opening reservation: %w", err)
	}

	now := o.clock.Now()
	order := entity.Order{
		ID:              uuid.NewString(),
		CheckoutID:      checkoutID,
		EventFunctionID: claims.EventFunctionID,
		BuyerRef:        req.BuyerRef,
		Status:          entity.OrderPending,
		Lines:           quote.Lines,
		Breakdown:       quote.Breakdown,
		CreatedAt:       now,
	}
	if err := o.orders.Create(ctx, order); err != nil {
		err = fmt.Errorf("creating order: %w", err)
		return Reservation{}, errors.Join(err, o.reservations.Release(ctx, checkoutID))
	}

	c := entity.Checkout{
		ID:              checkoutID,
		OrderID:         order.ID,
		EventFunctionID: claims.EventFunctionID,
		BuyerRef:        req.BuyerRef,
		State:           entity.CheckoutReserved,
		Lines:           quote.Lines,
		Breakdown:       quote.Breakdown,
		StageGroups:     quote.StageGroups,
		ExpiresAt:       session.ExpiresAt,
		UpdatedAt:       now,
	}
	if err := o.store.Save(ctx, c); err != nil {
		err = fmt.Errorf("storing checkout: %w", err)
		return Reservation{}, errors.Join(err,
			o.reservations.Release(ctx, checkoutID),
			o.orders.Cancel(ctx, order.ID, entity.ReasonInternal),
		)
	}

	logger.WithField("order_id", order.ID).Info("Checkout reserved")

	return Reservation{
		CheckoutID: checkoutID,
		OrderID:    order.ID,
		ExpiresAt:  session.ExpiresAt,
		Quote:      quote,
	}, nil
}
