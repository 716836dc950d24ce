package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"boxoffice/clock"
	"boxoffice/entity"
	"boxoffice/ledger"
	"boxoffice/reservation"
	"boxoffice/stage"

	"github.com/cenkalti/backoff/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventFunctionID = "fn-2026-03-01"

type fixture struct {
	ledger       *ledger.Memory
	clock        *clock.Fake
	gateway      *MockGateway
	orders       *MockOrders
	refunds      *MockRefunds
	store        *MemoryStore
	orchestrator *Orchestrator
}

func price(amount string) entity.Money {
	return entity.Money{Amount: decimal.RequireFromString(amount), Currency: "EUR"}
}

func newFixture(t *testing.T, tiers ...entity.TicketTier) fixture {
	t.Helper()

	l := ledger.NewMemory()
	for _, tier := range tiers {
		if tier.EventFunctionID == "" {
			tier.EventFunctionID = eventFunctionID
		}
		if tier.Price.Currency == "" {
			tier.Price = price("25.00")
		}
		require.NoError(t, l.AddTier(context.Background(), tier))
	}

	f := fixture{
		ledger: l,
		clock:  clock.NewFake(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)),
		gateway: &MockGateway{
			result: entity.ChargeResult{Approved: true, TransactionID: "tx-1", Status: "approved"},
		},
		orders:  NewMockOrders(),
		refunds: &MockRefunds{},
		store:   NewMemoryStore(),
	}

	manager := reservation.NewManager(l, reservation.NewMemoryStore(), f.clock, reservation.WithHoldTTL(10*time.Minute))

	f.orchestrator = New(Deps{
		Catalog:      l,
		Inventory:    l,
		Reservations: manager,
		Orders:       f.orders,
		Gateway:      f.gateway,
		Refunds:      f.refunds,
		Stages:       stage.NewController(l, &MockPublisher{}),
		Store:        f.store,
		Clock:        f.clock,
	}, Config{
		ConfirmationSecret: []byte("test-secret"),
		GatewayTimeout:     50 * time.Millisecond,
		ServiceFeePercent:  decimal.NewFromInt(10),
	})
	f.orchestrator.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}

	return f
}

func (f fixture) reserve(t *testing.T, selection entity.Selection) Reservation {
	t.Helper()

	confirmation, err := f.orchestrator.Confirm(context.Background(), ConfirmRequest{
		EventFunctionID: eventFunctionID,
		Selection:       selection,
	})
	require.NoError(t, err)

	res, err := f.orchestrator.Reserve(context.Background(), ReserveRequest{
		ConfirmationToken: confirmation.Token,
		BuyerRef:          "buyer@example.com",
	})
	require.NoError(t, err)

	return res
}

func (f fixture) available(t *testing.T, tierID string) int {
	t.Helper()

	n, err := f.ledger.AvailabilityOf(context.Background(), tierID)
	require.NoError(t, err)
	return n
}

func (f fixture) tier(t *testing.T, tierID string) entity.TicketTier {
	t.Helper()

	tier, err := f.ledger.Tier(context.Background(), tierID)
	require.NoError(t, err)
	return tier
}

func processRequest(checkoutID string) ProcessRequest {
	return ProcessRequest{
		CheckoutID: checkoutID,
		Payment: entity.PaymentInput{
			CardToken:    "tok_visa",
			CardBin:      "424242",
			Method:       "visa",
			Installments: 1,
		},
		Billing: entity.BillingInfo{
			Name:  "Ada Buyer",
			Email: "buyer@example.com",
		},
		AcceptTerms: true,
	}
}

func TestConfirm_pricing(t *testing.T) {
	f := newFixture(t,
		entity.TicketTier{ID: "general", Name: "General", Quantity: 100, Price: price("25.00")},
		entity.TicketTier{ID: "vip", Name: "VIP", Quantity: 10, Price: price("80.50")},
	)

	confirmation, err := f.orchestrator.Confirm(context.Background(), ConfirmRequest{
		EventFunctionID: eventFunctionID,
		Selection:       entity.Selection{"general": 2, "vip": 1},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, confirmation.Token)
	require.Len(t, confirmation.Quote.Lines, 2)
	assert.Equal(t, "130.5", confirmation.Quote.Breakdown.Subtotal.Amount.String())
	assert.Equal(t, "13.05", confirmation.Quote.Breakdown.ServiceFee.Amount.String())
	assert.Equal(t, "143.55", confirmation.Quote.Breakdown.Total.Amount.String())
	assert.Equal(t, "EUR", confirmation.Quote.Breakdown.Total.Currency)

	assert.Equal(t, 100, f.available(t, "general"), "confirming holds nothing")
}

func TestConfirm_invalidSelection(t *testing.T) {
	closed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t,
		entity.TicketTier{ID: "general", Quantity: 100},
		entity.TicketTier{ID: "hidden", Quantity: 100, Hidden: true},
		entity.TicketTier{ID: "other-show", Quantity: 100, EventFunctionID: "fn-other"},
		entity.TicketTier{ID: "closed", Quantity: 100, SalesEnd: &closed},
		entity.TicketTier{ID: "usd", Quantity: 100, Price: entity.Money{Amount: decimal.NewFromInt(10), Currency: "USD"}},
	)

	testCases := []struct {
		name      string
		selection entity.Selection
	}{
		{name: "empty", selection: entity.Selection{}},
		{name: "zero quantity", selection: entity.Selection{"general": 0}},
		{name: "unknown tier", selection: entity.Selection{"nope": 1}},
		{name: "hidden tier", selection: entity.Selection{"hidden": 1}},
		{name: "other event function", selection: entity.Selection{"other-show": 1}},
		{name: "sales closed", selection: entity.Selection{"closed": 1}},
		{name: "mixed currencies", selection: entity.Selection{"general": 1, "usd": 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orchestrator.Confirm(context.Background(), ConfirmRequest{
				EventFunctionID: eventFunctionID,
				Selection:       tc.selection,
			})
			assert.ErrorIs(t, err, entity.ErrInvalidSelection)
			assert.Equal(t, entity.ReasonInvalidSelection, entity.ReasonCode(err))
		})
	}
}

func TestConfirm_insufficientInventory(t *testing.T) {
	f := newFixture(t, entity.TicketTier{ID: "general", Quantity: 10, QuantitySold: 9})

	_, err := f.orchestrator.Confirm(context.Background(), ConfirmRequest{
		EventFunctionID: eventFunctionID,
		Selection:       entity.Selection{"general": 2},
	})
	assert.ErrorIs(t, err, entity.ErrInsufficientInventory)
}

func TestReserve_rejectsTamperedToken(t *testing.T) {
	f := newFixture(t, entity.TicketTier{ID: "general", Quantity: 10})

	confirmation, err := f.orchestrator.Confirm(context.Background(), ConfirmRequest{
		EventFunctionID: eventFunctionID,
		Selection:       entity.Selection{"general": 1},
	})
	require.NoError(t, err)

	_, err = f.orchestrator.Reserve(context.Background(), ReserveRequest{
		ConfirmationToken: confirmation.Token + "x",
	})
	assert.ErrorIs(t, err, entity.ErrInvalidSelection)

	f.clock.Advance(DefaultConfirmationTTL + time.Second)
	_, err = f.orchestrator.Reserve(context.Background(), ReserveRequest{
		ConfirmationToken: confirmation.Token,
	})
	assert.ErrorIs(t, err, entity.ErrInvalidSelection, "confirmation tokens expire")

	assert.Equal(t, 0, f.orders.count())
	assert.Equal(t, 10, f.available(t, "general"))
}

func TestProcess_fulfilsOrderAndRevealsNextStage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		entity.TicketTier{ID: "presale", Quantity: 10, QuantitySold: 8, StageGroup: "festival", StageOrder: 1},
		entity.TicketTier{ID: "general", Quantity: 100, Hidden: true, StageGroup: "festival", StageOrder: 2},
	)

	res := f.reserve(t, entity.Selection{"presale": 2})
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), res.ExpiresAt)
	assert.Equal(t, 0, f.available(t, "presale"))

	receipt, err := f.orchestrator.Process(ctx, processRequest(res.CheckoutID))
	require.NoError(t, err)

	assert.Equal(t, res.OrderID, receipt.OrderID)
	assert.Equal(t, "tx-1", receipt.TransactionID)
	require.Len(t, receipt.Tickets, 2)
	assert.NotEqual(t, receipt.Tickets[0].Code, receipt.Tickets[1].Code)

	assert.Equal(t, 10, f.tier(t, "presale").QuantitySold)
	assert.False(t, f.tier(t, "general").Hidden, "general is revealed once presale sells out")

	order := f.orders.order(res.OrderID)
	assert.Equal(t, entity.OrderPaid, order.Status)

	require.Equal(t, 1, f.gateway.calls())
	charge := f.gateway.Charges[0]
	assert.Equal(t, "55", charge.Amount.Amount.String())
	assert.Equal(t, res.OrderID, charge.IdempotencyKey)

	status, err := f.orchestrator.Status(ctx, res.CheckoutID)
	require.NoError(t, err)
	assert.Equal(t, entity.CheckoutFulfilled, status.State)
	assert.Len(t, status.TicketCodes, 2)

	_, err = f.orchestrator.Process(ctx, processRequest(res.CheckoutID))
	assert.ErrorIs(t, err, entity.ErrInvalidCheckoutState)
	assert.Equal(t, 1, f.gateway.calls(), "a checkout is charged once")
}

func TestReserve_lastTicket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, entity.TicketTier{ID: "general", Quantity: 10, QuantitySold: 9})

	var tokens []string
	for i := 0; i < 2; i++ {
		confirmation, err := f.orchestrator.Confirm(ctx, ConfirmRequest{
			EventFunctionID: eventFunctionID,
			Selection:       entity.Selection{"general": 1},
		})
		require.NoError(t, err, "both buyers see one ticket left")
		tokens = append(tokens, confirmation.Token)
	}

	var (
		wg       sync.WaitGroup
		lock     sync.Mutex
		reserved []Reservation
		rejected []error
	)
	for _, token := range tokens {
		token := token
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, err := f.orchestrator.Reserve(ctx, ReserveRequest{ConfirmationToken: token})

			lock.Lock()
			defer lock.Unlock()
			if err != nil {
				rejected = append(rejected, err)
				return
			}
			reserved = append(reserved, res)
		}()
	}
	wg.Wait()

	require.Len(t, reserved, 1, "exactly one buyer gets the last ticket")
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0], entity.ErrInsufficientInventory)
	assert.Equal(t, 1, f.orders.count(), "no order for the buyer who missed out")
	assert.Equal(t, 0, f.available(t, "general"))

	first := reserved[0]
	_, err := f.orchestrator.Process(ctx, processRequest(first.CheckoutID))
	require.NoError(t, err)
	assert.Equal(t, 10, f.tier(t, "general").QuantitySold)
}

func TestProcess_declinedPaymentReleasesHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, entity.TicketTier{ID: "general", Quantity: 10})
	f.gateway.result = entity.ChargeResult{Approved: false, Status: "rejected", FailureReason: "cc_rejected_insufficient_amount"}

	res := f.reserve(t, entity.Selection{"general": 3})

	_, err := f.orchestrator.Process(ctx, processRequest(res.CheckoutID))
	require.ErrorIs(t, err, entity.ErrPaymentDeclined)

	var declined *entity.PaymentDeclinedError
	require.True(t, errors.As(err, &declined))
	assert.Equal(t, "cc_rejected_insufficient_amount", declined.Reason)

	assert.Equal(t, 10, f.available(t, "general"))
	assert.Equal(t, 0, f.tier(t, "general").QuantitySold)

	order := f.orders.order(res.OrderID)
	assert.Equal(t, entity.OrderCancelled, order.Status)
	assert.Equal(t, entity.ReasonPaymentDeclined, order.FailureReason)

	status, err := f.orchestrator.Status(ctx, res.CheckoutID)
	require.NoError(t, err)
	assert.Equal(t, entity.CheckoutFailed, status.State)
}

func TestProcess_gatewayTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, entity.TicketTier{ID: "general", Quantity: 10})
	f.gateway.block = true

	res := f.reserve(t, entity.Selection{"general": 1})

	_, err := f.orchestrator.Process(ctx, processRequest(res.CheckoutID))
	require.ErrorIs(t, err, entity.ErrPaymentDeclined)
	assert.ErrorIs(t, err, entity.ErrGatewayUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, 10, f.available(t, "general"))
	assert.Equal(t, entity.OrderCancelled, f.orders.order(res.OrderID).Status)
}

func TestProcess_expiredReservationNeverCharges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, entity.TicketTier{ID: "general", Quantity: 10})

	res := f.reserve(t, entity.Selection{"general": 2})

	f.clock.Advance(11 * time.Minute)

	_, err := f.orchestrator.Process(ctx, processRequest(res.CheckoutID))
	require.ErrorIs(t, err, entity.ErrSessionExpired)

	assert.Equal(t, 0, f.gateway.calls())
	assert.Equal(t, 10, f.available(t, "general"))

	order := f.orders.order(res.OrderID)
	assert.Equal(t, entity.OrderCancelled, order.Status)
	assert.Equal(t, entity.ReasonSessionExpired, order.FailureReason)
}

func TestProcess_issuanceFailureCompensates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, entity.TicketTier{ID: "general", Quantity: 10})
	f.orders.fulfilErr = errors.New("db unavailable")

	res := f.reserve(t, entity.Selection{"general": 2})

	_, err := f.orchestrator.Process(ctx, processRequest(res.CheckoutID))
	require.ErrorIs(t, err, entity.ErrInconsistentCommit)
	assert.Equal(t, entity.ReasonInconsistentCommit, entity.ReasonCode(err))

	assert.Equal(t, 3, f.orders.FulfilRuns, "issuance is retried before compensating")
	assert.Equal(t, 0, f.tier(t, "general").QuantitySold)
	assert.Equal(t, 10, f.available(t, "general"))

	require.Len(t, f.refunds.Refunds, 1)
	assert.Equal(t, "tx-1", f.refunds.Refunds[0].transactionID)

	assert.Equal(t, entity.OrderCancelled, f.orders.order(res.OrderID).Status)
}

func TestProcess_requiresAcceptedTerms(t *testing.T) {
	f := newFixture(t, entity.TicketTier{ID: "general", Quantity: 10})
	res := f.reserve(t, entity.Selection{"general": 1})

	req := processRequest(res.CheckoutID)
	req.AcceptTerms = false

	_, err := f.orchestrator.Process(context.Background(), req)
	require.ErrorIs(t, err, entity.ErrTermsNotAccepted)

	assert.Equal(t, 0, f.gateway.calls())
	assert.Equal(t, 9, f.available(t, "general"), "the hold survives so the buyer can retry")
}

func TestProcess_unknownCheckout(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator.Process(context.Background(), processRequest("nope"))
	assert.ErrorIs(t, err, entity.ErrSessionNotFound)
	assert.Equal(t, entity.ReasonSessionNotFound, entity.ReasonCode(err))
	assert.Equal(t, 0, f.gateway.calls(), "nothing is charged without a reservation")
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, entity.TicketTier{ID: "general", Quantity: 10})
	res := f.reserve(t, entity.Selection{"general": 4})

	require.NoError(t, f.orchestrator.Cancel(ctx, res.CheckoutID))
	require.NoError(t, f.orchestrator.Cancel(ctx, res.CheckoutID))

	assert.Equal(t, 10, f.available(t, "general"))

	order := f.orders.order(res.OrderID)
	assert.Equal(t, entity.OrderCancelled, order.Status)
	assert.Equal(t, entity.ReasonCancelledByBuyer, order.FailureReason)

	_, err := f.orchestrator.Process(ctx, processRequest(res.CheckoutID))
	assert.ErrorIs(t, err, entity.ErrInvalidCheckoutState)
	assert.Equal(t, 0, f.gateway.calls())
}
