// Package reservation groups inventory holds into time-limited sessions.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boxoffice/clock"
	"boxoffice/entity"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
)

const (
	DefaultHoldTTL       = 10 * time.Minute
	DefaultHoldGrace     = 5 * time.Minute
	DefaultSweepInterval = 15 * time.Second
	defaultSweepMax      = 100
)

type Ledger interface {
	TryHold(ctx context.Context, tierID string, quantity int) (string, error)
	Commit(ctx context.Context, token string) error
	Release(ctx context.Context, token string) error
	Revert(ctx context.Context, token string) error
	ExpireHolds(ctx context.Context, olderThan time.Time) (int, error)
}

// ExpiryHook is called once for every session the manager expires.
type ExpiryHook func(ctx context.Context, session entity.ReservationSession) error

type Option func(*Manager)

func WithHoldTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithHoldGrace sets how long past the hold TTL a ledger hold may stay
// held before the sweeper releases it without its session.
func WithHoldGrace(grace time.Duration) Option {
	return func(m *Manager) {
		if grace >= 0 {
			m.grace = grace
		}
	}
}

func WithExpiryHook(hook ExpiryHook) Option {
	return func(m *Manager) {
		m.onExpire = hook
	}
}

func WithSweepBatch(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.sweepBatch = n
		}
	}
}

type Manager struct {
	ledger     Ledger
	store      Store
	clock      clock.Clock
	ttl        time.Duration
	grace      time.Duration
	onExpire   ExpiryHook
	sweepBatch int
}

func NewManager(l Ledger, s Store, c clock.Clock, opts ...Option) *Manager {
	m := &Manager{
		ledger:     l,
		store:      s,
		clock:      c,
		ttl:        DefaultHoldTTL,
		grace:      DefaultHoldGrace,
		sweepBatch: defaultSweepMax,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open holds every line of selection or nothing. Holds are taken in tier ID
// order; on the first failure the holds already taken are released.
func (m *Manager) Open(ctx context.Context, sessionID string, selection entity.Selection) (entity.ReservationSession, error) {
	if len(selection) == 0 {
		return entity.ReservationSession{}, fmt.Errorf("%w: empty selection", entity.ErrInvalidSelection)
	}

	lines := make([]entity.HoldLine, 0, len(selection))
	for _, tierID := range selection.TierIDs() {
		quantity := selection[tierID]

		token, err := m.ledger.TryHold(ctx, tierID, quantity)
		if err != nil {
			err = fmt.Errorf("holding %d tickets of tier %s: %w", quantity, tierID, err)
			return entity.ReservationSession{}, errors.Join(err, m.releaseLines(ctx, lines))
		}

		lines = append(lines, entity.HoldLine{
			TierID:   tierID,
			Quantity: quantity,
			Token:    token,
		})
	}

	now := m.clock.Now()
	session := entity.ReservationSession{
		ID:        sessionID,
		Lines:     lines,
		Status:    entity.SessionHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.store.Create(ctx, session); err != nil {
		err = fmt.Errorf("storing session: %w", err)
		return entity.ReservationSession{}, errors.Join(err, m.releaseLines(ctx, lines))
	}

	log.FromContext(ctx).WithField("session_id", sessionID).WithField("expires_at", session.ExpiresAt).Info("Reservation opened")

	return session, nil
}

// Get returns the session. A held session past its expiry is expired and
// released on access and reported as ErrSessionExpired.
func (m *Manager) Get(ctx context.Context, sessionID string) (entity.ReservationSession, error) {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return entity.ReservationSession{}, err
	}

	switch session.Status {
	case entity.SessionHeld:
		if session.Overdue(m.clock.Now()) {
			if err := m.expire(ctx, session); err != nil {
				log.FromContext(ctx).WithError(err).WithField("session_id", sessionID).Error("Failed to expire reservation")
			}
			session.Status = entity.SessionExpired
			return session, fmt.Errorf("%w: %s", entity.ErrSessionExpired, sessionID)
		}
	case entity.SessionExpired:
		return session, fmt.Errorf("%w: %s", entity.ErrSessionExpired, sessionID)
	}

	return session, nil
}

// Commit turns every hold of a live session into a sale. The session is
// claimed before the ledger is touched, so a concurrent sweep or release
// cannot act on it halfway through.
func (m *Manager) Commit(ctx context.Context, sessionID string) (entity.ReservationSession, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return entity.ReservationSession{}, err
	}
	if session.Status != entity.SessionHeld {
		return entity.ReservationSession{}, fmt.Errorf("%w: session %s is %s", entity.ErrSessionNotFound, sessionID, session.Status)
	}

	claimed, err := m.store.Transition(ctx, sessionID, entity.SessionHeld, entity.SessionCommitted)
	if err != nil {
		return entity.ReservationSession{}, fmt.Errorf("claiming session: %w", err)
	}
	if !claimed {
		current, err := m.store.Get(ctx, sessionID)
		if err == nil && current.Status == entity.SessionExpired {
			return entity.ReservationSession{}, fmt.Errorf("%w: %s", entity.ErrSessionExpired, sessionID)
		}
		return entity.ReservationSession{}, fmt.Errorf("%w: session %s is no longer held", entity.ErrSessionNotFound, sessionID)
	}

	for i, line := range session.Lines {
		if err := m.ledger.Commit(ctx, line.Token); err != nil {
			err = fmt.Errorf("committing hold for tier %s: %w", line.TierID, err)
			return entity.ReservationSession{}, errors.Join(err, m.abortCommit(ctx, session, i))
		}
	}

	session.Status = entity.SessionCommitted
	return session, nil
}

// abortCommit undoes a partially committed session: lines before failed are
// reverted, the rest released.
func (m *Manager) abortCommit(ctx context.Context, session entity.ReservationSession, failed int) error {
	var errs []error
	for _, line := range session.Lines[:failed] {
		if err := m.ledger.Revert(ctx, line.Token); err != nil {
			errs = append(errs, fmt.Errorf("reverting hold for tier %s: %w", line.TierID, err))
		}
	}
	if err := m.releaseLines(ctx, session.Lines[failed:]); err != nil {
		errs = append(errs, err)
	}
	if _, err := m.store.Transition(ctx, session.ID, entity.SessionCommitted, entity.SessionReleased); err != nil {
		errs = append(errs, fmt.Errorf("releasing session: %w", err))
	}
	return errors.Join(errs...)
}

// Release gives back every hold of a held session. It is a no-op for
// sessions that are already committed or released.
func (m *Manager) Release(ctx context.Context, sessionID string) error {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	switch session.Status {
	case entity.SessionCommitted, entity.SessionReleased:
		return nil
	case entity.SessionExpired:
		return m.finishExpiry(ctx, session)
	}

	if err := m.releaseLines(ctx, session.Lines); err != nil {
		return err
	}

	if _, err := m.store.Transition(ctx, sessionID, entity.SessionHeld, entity.SessionReleased); err != nil {
		return fmt.Errorf("releasing session: %w", err)
	}

	return nil
}

// Compensate undoes a committed session after its sale could not be
// completed: sold units go back to the pool.
func (m *Manager) Compensate(ctx context.Context, sessionID string) error {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	switch session.Status {
	case entity.SessionHeld, entity.SessionExpired:
		return m.Release(ctx, sessionID)
	case entity.SessionReleased:
		return nil
	}

	var errs []error
	for _, line := range session.Lines {
		if err := m.ledger.Revert(ctx, line.Token); err != nil {
			errs = append(errs, fmt.Errorf("reverting hold for tier %s: %w", line.TierID, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if _, err := m.store.Transition(ctx, sessionID, entity.SessionCommitted, entity.SessionReleased); err != nil {
		return fmt.Errorf("releasing session: %w", err)
	}

	log.FromContext(ctx).WithField("session_id", sessionID).Warn("Committed reservation compensated")

	return nil
}

// expire claims a held session as expired, releases its holds and runs the
// expiry hook. Losing the claim means another caller already moved it on.
func (m *Manager) expire(ctx context.Context, session entity.ReservationSession) error {
	claimed, err := m.store.Transition(ctx, session.ID, entity.SessionHeld, entity.SessionExpired)
	if err != nil {
		return fmt.Errorf("expiring session: %w", err)
	}
	if !claimed {
		return nil
	}

	log.FromContext(ctx).WithField("session_id", session.ID).Info("Reservation expired")

	if err := m.finishExpiry(ctx, session); err != nil {
		return err
	}

	if m.onExpire != nil {
		session.Status = entity.SessionExpired
		if err := m.onExpire(ctx, session); err != nil {
			return fmt.Errorf("running expiry hook: %w", err)
		}
	}

	return nil
}

func (m *Manager) finishExpiry(ctx context.Context, session entity.ReservationSession) error {
	if err := m.releaseLines(ctx, session.Lines); err != nil {
		return err
	}

	if _, err := m.store.Transition(ctx, session.ID, entity.SessionExpired, entity.SessionReleased); err != nil {
		return fmt.Errorf("releasing expired session: %w", err)
	}

	return nil
}

func (m *Manager) releaseLines(ctx context.Context, lines []entity.HoldLine) error {
	var errs []error
	for _, line := range lines {
		if err := m.ledger.Release(ctx, line.Token); err != nil {
			errs = append(errs, fmt.Errorf("releasing hold for tier %s: %w", line.TierID, err))
		}
	}
	return errors.Join(errs...)
}

// Sweep expires sessions whose TTL has passed and finishes releasing
// sessions left expired by an earlier failure. It returns how many sessions
// it handled.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	ids, err := m.store.Overdue(ctx, m.clock.Now(), m.sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("listing overdue sessions: %w", err)
	}

	var (
		swept int
		errs  []error
	)
	for _, id := range ids {
		session, err := m.store.Get(ctx, id)
		if errors.Is(err, entity.ErrSessionNotFound) {
			// The record is gone but its index entry is not. Its holds are
			// left to ExpireStrandedHolds.
			if err := m.store.Forget(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("forgetting lost session %s: %w", id, err))
			}
			log.FromContext(ctx).WithField("session_id", id).Warn("Overdue session record is missing")
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		switch session.Status {
		case entity.SessionHeld:
			err = m.expire(ctx, session)
		case entity.SessionExpired:
			err = m.finishExpiry(ctx, session)
		default:
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sweeping session %s: %w", id, err))
			continue
		}
		swept++
	}

	return swept, errors.Join(errs...)
}

// ExpireStrandedHolds releases ledger holds still held longer than the hold
// TTL plus grace, whatever the state of their session record.
func (m *Manager) ExpireStrandedHolds(ctx context.Context) (int, error) {
	cutoff := m.clock.Now().Add(-m.ttl - m.grace)

	n, err := m.ledger.ExpireHolds(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("expiring holds placed before %s: %w", cutoff, err)
	}
	return n, nil
}

// RunSweeper sweeps every interval until ctx is done. A non-positive
// interval falls back to DefaultSweepInterval.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := log.FromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			swept, err := m.Sweep(ctx)
			if err != nil {
				logger.WithError(err).Error("Reservation sweep failed")
			}
			if swept > 0 {
				logger.WithField("sessions", swept).Info("Expired reservations swept")
			}

			stranded, err := m.ExpireStrandedHolds(ctx)
			if err != nil {
				logger.WithError(err).Error("Releasing stranded holds failed")
			}
			if stranded > 0 {
				logger.WithField("holds", stranded).Warn("Stranded holds released")
			}
		}
	}
}
