// Package checkout drives a purchase from the buyer's selection to issued
// tickets: confirm, reserve, charge, commit.
package checkout

import (
	"context"
	"time"

	"boxoffice/clock"
	"boxoffice/entity"

	"github.com/cenkalti/backoff/v3"
	"github.com/shopspring/decimal"
)

const (
	DefaultGatewayTimeout  = 30 * time.Second
	DefaultConfirmationTTL = 15 * time.Minute
)

type Catalog interface {
	Tier(ctx context.Context, tierID string) (entity.TicketTier, error)
}

type Inventory interface {
	AvailabilityOf(ctx context.Context, tierID string) (int, error)
}

type Reservations interface {
	Open(ctx context.Context, sessionID string, selection entity.Selection) (entity.ReservationSession, error)
	Get(ctx context.Context, sessionID string) (entity.ReservationSession, error)
	Commit(ctx context.Context, sessionID string) (entity.ReservationSession, error)
	Release(ctx context.Context, sessionID string) error
	Compensate(ctx context.Context, sessionID string) error
}

type OrderRepo interface {
	Create(ctx context.Context, order entity.Order) error
	Cancel(ctx context.Context, orderID, reason string) error
	Fulfil(ctx context.Context, orderID, transactionID string, tickets []entity.IssuedTicket) error
}

type PaymentGateway interface {
	Charge(ctx context.Context, req entity.ChargeRequest) (entity.ChargeResult, error)
}

type RefundRequester interface {
	RequestRefund(ctx context.Context, orderID, transactionID string) error
}

type StageReevaluator interface {
	ReevaluateStage(ctx context.Context, stageGroup string) ([]string, error)
}

// Store persists checkouts. Transition is an atomic compare-and-swap on
// the checkout state and reports whether it applied.
type Store interface {
	Save(ctx context.Context, c entity.Checkout) error
	Get(ctx context.Context, checkoutID string) (entity.Checkout, error)
	Transition(ctx context.Context, checkoutID string, from, to entity.CheckoutState) (bool, error)
}

type Deps struct {
	Catalog      Catalog
	Inventory    Inventory
	Reservations Reservations
	Orders       OrderRepo
	Gateway      PaymentGateway
	Refunds      RefundRequester
	Stages       StageReevaluator
	Store        Store
	Clock        clock.Clock
}

type Config struct {
	ConfirmationSecret []byte
	ConfirmationTTL    time.Duration
	GatewayTimeout     time.Duration
	ServiceFeePercent  decimal.Decimal
}

type Orchestrator struct {
	catalog      Catalog
	inventory    Inventory
	reservations Reservations
	orders       OrderRepo
	gateway      PaymentGateway
	refunds      RefundRequester
	stages       StageReevaluator
	store        Store
	clock        clock.Clock

	tokens            confirmationTokens
	gatewayTimeout    time.Duration
	serviceFeePercent decimal.Decimal
	newBackOff        func() backoff.BackOff
}

func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultGatewayTimeout
	}
	if cfg.ConfirmationTTL <= 0 {
		cfg.ConfirmationTTL = DefaultConfirmationTTL
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}

	return &Orchestrator{
		catalog:      deps.Catalog,
		inventory:    deps.Inventory,
		reservations: deps.Reservations,
		orders:       deps.Orders,
		gateway:      deps.Gateway,
		refunds:      deps.Refunds,
		stages:       deps.Stages,
		store:        deps.Store,
		clock:        deps.Clock,
		tokens: confirmationTokens{
			secret: cfg.ConfirmationSecret,
			ttl:    cfg.ConfirmationTTL,
			clock:  deps.Clock,
		},
		gatewayTimeout:    cfg.GatewayTimeout,
		serviceFeePercent: cfg.ServiceFeePercent,
		newBackOff:        fulfilBackOff,
	}
}

func fulfilBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(b, 5)
}

func (o *Orchestrator) Status(ctx context.Context, checkoutID string) (entity.Checkout, error) {
	return o.store.Get(ctx, checkoutID)
}
