package checkout

import (
	"context"
	"fmt"
	"sync"

	"boxoffice/entity"
)

type MockGateway struct {
	lock    sync.Mutex
	result  entity.ChargeResult
	err     error
	block   bool
	Charges []entity.ChargeRequest
}

func (m *MockGateway) Charge(ctx context.Context, req entity.ChargeRequest) (entity.ChargeResult, error) {
	m.lock.Lock()
	m.Charges = append(m.Charges, req)
	result, err, block := m.result, m.err, m.block
	m.lock.Unlock()

	if block {
		<-ctx.Done()
		return entity.ChargeResult{}, ctx.Err()
	}
	return result, err
}

func (m *MockGateway) calls() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.Charges)
}

type MockOrders struct {
	lock       sync.Mutex
	fulfilErr  error
	Orders     map[string]entity.Order
	Tickets    map[string][]entity.IssuedTicket
	FulfilRuns int
}

func NewMockOrders() *MockOrders {
	return &MockOrders{
		Orders:  make(map[string]entity.Order),
		Tickets: make(map[string][]entity.IssuedTicket),
	}
}

func (m *MockOrders) Create(_ context.Context, order entity.Order) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Orders[order.ID] = order
	return nil
}

func (m *MockOrders) Cancel(_ context.Context, orderID, reason string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	order, ok := m.Orders[orderID]
	if !ok || order.Status != entity.OrderPending {
		return nil
	}
	order.Status = entity.OrderCancelled
	order.FailureReason = reason
	m.Orders[orderID] = order
	return nil
}

func (m *MockOrders) Fulfil(_ context.Context, orderID, transactionID string, tickets []entity.IssuedTicket) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.FulfilRuns++
	if m.fulfilErr != nil {
		return m.fulfilErr
	}

	order, ok := m.Orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	if order.Status != entity.OrderPending {
		return entity.ErrOrderNotPending
	}
	order.Status = entity.OrderPaid
	order.TransactionID = transactionID
	m.Orders[orderID] = order
	m.Tickets[orderID] = tickets
	return nil
}

func (m *MockOrders) order(orderID string) entity.Order {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.Orders[orderID]
}

func (m *MockOrders) count() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.Orders)
}

type refundRequest struct {
	orderID       string
	transactionID string
}

type MockRefunds struct {
	lock    sync.Mutex
	Refunds []refundRequest
}

func (m *MockRefunds) RequestRefund(_ context.Context, orderID, transactionID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Refunds = append(m.Refunds, refundRequest{orderID: orderID, transactionID: transactionID})
	return nil
}

type MockPublisher struct {
	lock   sync.Mutex
	Events []any
}

func (m *MockPublisher) Publish(_ context.Context, e any) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Events = append(m.Events, e)
	return nil
}
