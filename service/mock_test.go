package service_test

import (
	"context"
	"sync"

	"boxoffice/entity"
	"boxoffice/event"

	"github.com/google/uuid"
)

const declinedCardToken = "tok_declined"

type MockGateway struct {
	lock    sync.Mutex
	Charges []entity.ChargeRequest
	Refunds []string
}

func (m *MockGateway) Charge(_ context.Context, req entity.ChargeRequest) (entity.ChargeResult, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Charges = append(m.Charges, req)

	if req.Payment.CardToken == declinedCardToken {
		return entity.ChargeResult{Status: "rejected", FailureReason: "cc_rejected_other_reason"}, nil
	}
	return entity.ChargeResult{Approved: true, TransactionID: uuid.NewString(), Status: "approved"}, nil
}

func (m *MockGateway) Refund(_ context.Context, transactionID, _ string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Refunds = append(m.Refunds, transactionID)
	return nil
}

type MockNotifier struct {
	lock      sync.Mutex
	Confirmed []event.OrderPaid
}

func (m *MockNotifier) NotifyOrderConfirmed(_ context.Context, e event.OrderPaid) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Confirmed = append(m.Confirmed, e)
	return nil
}

func (m *MockNotifier) confirmedOrder(orderID string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, e := range m.Confirmed {
		if e.OrderID == orderID {
			return true
		}
	}
	return false
}
