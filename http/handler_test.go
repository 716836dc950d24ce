package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"boxoffice/checkout"
	"boxoffice/entity"
	boxofficeHTTP "boxoffice/http"
	"boxoffice/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockCheckouts struct {
	lock sync.Mutex
	err  error

	Confirms  []checkout.ConfirmRequest
	Processes []checkout.ProcessRequest
	Cancels   []string
}

func (m *MockCheckouts) Confirm(_ context.Context, req checkout.ConfirmRequest) (checkout.Confirmation, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Confirms = append(m.Confirms, req)
	if m.err != nil {
		return checkout.Confirmation{}, m.err
	}

	eur := func(s string) entity.Money {
		return entity.Money{Amount: decimal.RequireFromString(s), Currency: "EUR"}
	}
	return checkout.Confirmation{
		Token:     "token-1",
		ExpiresAt: time.Date(2026, 3, 1, 18, 15, 0, 0, time.UTC),
		Quote: checkout.Quote{
			Lines: []entity.OrderLine{{TierID: "general", TierName: "General", Quantity: 2, UnitPrice: eur("25")}},
			Breakdown: entity.Breakdown{
				Subtotal:   eur("50"),
				ServiceFee: eur("5"),
				Total:      eur("55"),
			},
		},
	}, nil
}

func (m *MockCheckouts) Reserve(_ context.Context, req checkout.ReserveRequest) (checkout.Reservation, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.err != nil {
		return checkout.Reservation{}, m.err
	}
	return checkout.Reservation{CheckoutID: "checkout-1", OrderID: "order-1"}, nil
}

func (m *MockCheckouts) Process(_ context.Context, req checkout.ProcessRequest) (checkout.Receipt, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Processes = append(m.Processes, req)
	if m.err != nil {
		return checkout.Receipt{}, m.err
	}
	return checkout.Receipt{
		OrderID:       "order-1",
		TransactionID: "tx-1",
		Tickets:       []entity.IssuedTicket{{Code: "code-1", TierID: "general"}},
	}, nil
}

func (m *MockCheckouts) Status(_ context.Context, checkoutID string) (entity.Checkout, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.err != nil {
		return entity.Checkout{}, m.err
	}
	return entity.Checkout{ID: checkoutID, OrderID: "order-1", State: entity.CheckoutReserved}, nil
}

func (m *MockCheckouts) Cancel(_ context.Context, checkoutID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Cancels = append(m.Cancels, checkoutID)
	return m.err
}

func serve(t *testing.T, checkouts *MockCheckouts, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	inventory := ledger.NewMemory()
	require.NoError(t, inventory.AddTier(context.Background(), entity.TicketTier{ID: "general", Quantity: 100, QuantitySold: 40}))

	router := boxofficeHTTP.NewRouter(checkouts, inventory)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	rec := serve(t, &MockCheckouts{}, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetAvailability(t *testing.T) {
	rec := serve(t, &MockCheckouts{}, http.MethodGet, "/tiers/general/availability", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(60), decode(t, rec)["available"])

	rec = serve(t, &MockCheckouts{}, http.MethodGet, "/tiers/nope/availability", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostConfirm(t *testing.T) {
	checkouts := &MockCheckouts{}

	rec := serve(t, checkouts, http.MethodPost, "/checkout/confirm",
		`{"event_function_id": "fn-1", "selection": {"general": 2}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "token-1", body["confirmation_token"])

	pricing := body["pricing"].(map[string]any)
	assert.Equal(t, "55.00", pricing["total"].(map[string]any)["amount"])
	assert.Equal(t, "5.00", pricing["service_fee"].(map[string]any)["amount"])

	require.Len(t, checkouts.Confirms, 1)
	assert.Equal(t, entity.Selection{"general": 2}, checkouts.Confirms[0].Selection)
}

func TestPostReserve(t *testing.T) {
	rec := serve(t, &MockCheckouts{}, http.MethodPost, "/checkout/reserve", `{"confirmation_token": "token-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "checkout-1", decode(t, rec)["checkout_id"])
}

func TestPostProcess(t *testing.T) {
	checkouts := &MockCheckouts{}

	rec := serve(t, checkouts, http.MethodPost, "/checkout/checkout-1/process", `{
		"payment": {"card_token": "tok_visa", "payment_method": "visa"},
		"billing": {"name": "Ada Buyer", "email": "buyer@example.com"},
		"accept_terms": true
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "order-1", body["order_id"])
	assert.Len(t, body["tickets"], 1)

	require.Len(t, checkouts.Processes, 1)
	req := checkouts.Processes[0]
	assert.Equal(t, "checkout-1", req.CheckoutID)
	assert.Equal(t, 1, req.Payment.Installments)
	assert.Equal(t, "buyer@example.com", req.Billing.Email)
	assert.True(t, req.AcceptTerms)
}

func TestDeleteCheckout(t *testing.T) {
	checkouts := &MockCheckouts{}

	rec := serve(t, checkouts, http.MethodDelete, "/checkout/checkout-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"checkout-1"}, checkouts.Cancels)
}

func TestErrorResponses(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "insufficient inventory",
			err:    entity.InsufficientInventoryError{TierID: "general", Available: 1, Requested: 2},
			status: http.StatusConflict,
			code:   entity.ReasonInsufficientInventory,
		},
		{
			name:   "session expired",
			err:    fmt.Errorf("%w: checkout-1", entity.ErrSessionExpired),
			status: http.StatusGone,
			code:   entity.ReasonSessionExpired,
		},
		{
			name:   "payment declined",
			err:    &entity.PaymentDeclinedError{Status: "rejected", Reason: "cc_rejected_other_reason"},
			status: http.StatusPaymentRequired,
			code:   entity.ReasonPaymentDeclined,
		},
		{
			name:   "terms not accepted",
			err:    entity.ErrTermsNotAccepted,
			status: http.StatusBadRequest,
			code:   entity.ReasonTermsNotAccepted,
		},
		{
			name:   "checkout not found",
			err:    entity.ErrCheckoutNotFound,
			status: http.StatusNotFound,
			code:   entity.ReasonCheckoutNotFound,
		},
		{
			name:   "inconsistent commit",
			err:    fmt.Errorf("%w: issuing tickets", entity.ErrInconsistentCommit),
			status: http.StatusInternalServerError,
			code:   entity.ReasonInconsistentCommit,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, &MockCheckouts{err: tc.err}, http.MethodPost, "/checkout/checkout-1/process", `{"accept_terms": true}`)
			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decode(t, rec)["code"])
		})
	}
}

func TestPaymentDeclinedDetails(t *testing.T) {
	err := &entity.PaymentDeclinedError{Status: "rejected", Reason: "cc_rejected_call_for_authorize"}

	rec := serve(t, &MockCheckouts{err: err}, http.MethodPost, "/checkout/checkout-1/process", `{"accept_terms": true}`)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "rejected", body["payment_status"])
	assert.Equal(t, "cc_rejected_call_for_authorize", body["payment_reason"])
}

func TestPostConfirm_badRequest(t *testing.T) {
	rec := serve(t, &MockCheckouts{}, http.MethodPost, "/checkout/confirm", `{"selection": "nope"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
