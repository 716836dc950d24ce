package checkout

import (
	"context"
	"fmt"
	"sync"

	"boxoffice/entity"
)

type MemoryStore struct {
	lock      sync.Mutex
	checkouts map[string]entity.Checkout
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkouts: make(map[string]entity.Checkout),
	}
}

func (s *MemoryStore) Save(_ context.Context, c entity.Checkout) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.checkouts[c.ID] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, checkoutID string) (entity.Checkout, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	c, ok := s.checkouts[checkoutID]
	if !ok {
		return entity.Checkout{}, fmt.Errorf("%w: %s", entity.ErrCheckoutNotFound, checkoutID)
	}
	return c, nil
}

func (s *MemoryStore) Transition(_ context.Context, checkoutID string, from, to entity.CheckoutState) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	c, ok := s.checkouts[checkoutID]
	if !ok || c.State != from {
		return false, nil
	}

	c.State = to
	s.checkouts[checkoutID] = c
	return true, nil
}
