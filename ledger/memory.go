// Package ledger holds the in-memory inventory ledger. It is the
// authoritative per-tier counter when the service runs without Postgres
// and in unit tests.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"boxoffice/clock"
	"boxoffice/entity"

	"github.com/google/uuid"
)

type holdStatus int

const (
	holdActive holdStatus = iota
	holdCommitted
	holdReleased
)

type hold struct {
	tierID   string
	quantity int
	status   holdStatus
	heldAt   time.Time
}

// tierState guards one tier's counters and the status of its holds.
type tierState struct {
	lock sync.Mutex
	tier entity.TicketTier
	held int
}

func (s *tierState) available() int {
	return s.tier.Quantity - s.tier.QuantitySold - s.held
}

type Memory struct {
	clock clock.Clock

	tiersLock sync.RWMutex
	tiers     map[string]*tierState

	holdsLock sync.RWMutex
	holds     map[string]*hold
}

type Option func(*Memory)

// WithClock sets the clock used to stamp new holds.
func WithClock(c clock.Clock) Option {
	return func(m *Memory) {
		m.clock = c
	}
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		clock: clock.NewSystem(),
		tiers: make(map[string]*tierState),
		holds: make(map[string]*hold),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) AddTier(_ context.Context, tier entity.TicketTier) error {
	if tier.ID == "" {
		tier.ID = uuid.NewString()
	}
	if tier.Quantity < 0 || tier.QuantitySold < 0 || tier.QuantitySold > tier.Quantity {
		return fmt.Errorf("tier %s: quantity sold %d out of range [0, %d]", tier.ID, tier.QuantitySold, tier.Quantity)
	}

	m.tiersLock.Lock()
	defer m.tiersLock.Unlock()

	m.tiers[tier.ID] = &tierState{tier: tier}
	return nil
}

func (m *Memory) state(tierID string) (*tierState, error) {
	m.tiersLock.RLock()
	defer m.tiersLock.RUnlock()

	s, ok := m.tiers[tierID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrTierNotFound, tierID)
	}
	return s, nil
}

func (m *Memory) hold(token string) (*hold, error) {
	m.holdsLock.RLock()
	defer m.holdsLock.RUnlock()

	h, ok := m.holds[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrHoldNotFound, token)
	}
	return h, nil
}

func (m *Memory) TryHold(_ context.Context, tierID string, quantity int) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive, got %d", entity.ErrInvalidSelection, quantity)
	}

	s, err := m.state(tierID)
	if err != nil {
		return "", err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if available := s.available(); quantity > available {
		return "", entity.InsufficientInventoryError{
			TierID:    tierID,
			Available: available,
			Requested: quantity,
		}
	}
	s.held += quantity

	token := uuid.NewString()

	m.holdsLock.Lock()
	m.holds[token] = &hold{tierID: tierID, quantity: quantity, heldAt: m.clock.Now()}
	m.holdsLock.Unlock()

	return token, nil
}

func (m *Memory) Commit(_ context.Context, token string) error {
	h, s, err := m.lookup(token)
	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	switch h.status {
	case holdCommitted:
		return nil
	case holdReleased:
		return fmt.Errorf("%w: %s", entity.ErrHoldReleased, token)
	}

	h.status = holdCommitted
	s.held -= h.quantity
	s.tier.QuantitySold += h.quantity
	return nil
}

func (m *Memory) Release(_ context.Context, token string) error {
	h, s, err := m.lookup(token)
	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if h.status != holdActive {
		return nil
	}

	h.status = holdReleased
	s.held -= h.quantity
	return nil
}

func (m *Memory) Revert(_ context.Context, token string) error {
	h, s, err := m.lookup(token)
	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	switch h.status {
	case holdActive:
		s.held -= h.quantity
	case holdCommitted:
		s.tier.QuantitySold -= h.quantity
	case holdReleased:
		return nil
	}

	h.status = holdReleased
	return nil
}

// ExpireHolds releases every active hold placed before olderThan.
func (m *Memory) ExpireHolds(_ context.Context, olderThan time.Time) (int, error) {
	m.holdsLock.RLock()
	var tokens []string
	for token, h := range m.holds {
		if h.heldAt.Before(olderThan) {
			tokens = append(tokens, token)
		}
	}
	m.holdsLock.RUnlock()

	expired := 0
	for _, token := range tokens {
		h, s, err := m.lookup(token)
		if err != nil {
			return expired, err
		}

		s.lock.Lock()
		if h.status == holdActive {
			h.status = holdReleased
			s.held -= h.quantity
			expired++
		}
		s.lock.Unlock()
	}

	return expired, nil
}

func (m *Memory) AvailabilityOf(_ context.Context, tierID string) (int, error) {
	s, err := m.state(tierID)
	if err != nil {
		return 0, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.available(), nil
}

func (m *Memory) lookup(token string) (*hold, *tierState, error) {
	h, err := m.hold(token)
	if err != nil {
		return nil, nil, err
	}

	s, err := m.state(h.tierID)
	if err != nil {
		return nil, nil, err
	}

	return h, s, nil
}

func (m *Memory) Tier(_ context.Context, tierID string) (entity.TicketTier, error) {
	s, err := m.state(tierID)
	if err != nil {
		return entity.TicketTier{}, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.tier, nil
}

func (m *Memory) TiersInStageGroup(_ context.Context, stageGroup string) ([]entity.TicketTier, error) {
	m.tiersLock.RLock()
	states := make([]*tierState, 0, len(m.tiers))
	for _, s := range m.tiers {
		states = append(states, s)
	}
	m.tiersLock.RUnlock()

	var tiers []entity.TicketTier
	for _, s := range states {
		s.lock.Lock()
		t := s.tier
		s.lock.Unlock()

		if t.StageGroup == stageGroup {
			tiers = append(tiers, t)
		}
	}

	sort.Slice(tiers, func(i, j int) bool {
		if tiers[i].StageOrder != tiers[j].StageOrder {
			return tiers[i].StageOrder < tiers[j].StageOrder
		}
		return tiers[i].ID < tiers[j].ID
	})

	return tiers, nil
}

// RevealTiers clears the hidden flag. It never hides a tier.
func (m *Memory) RevealTiers(_ context.Context, tierIDs []string) error {
	for _, id := range tierIDs {
		s, err := m.state(id)
		if err != nil {
			return err
		}

		s.lock.Lock()
		s.tier.Hidden = false
		s.lock.Unlock()
	}

	return nil
}
