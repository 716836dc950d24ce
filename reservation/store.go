package reservation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"boxoffice/entity"
)

// Store persists reservation sessions. Transition is an atomic
// compare-and-swap on the session status and reports whether it applied.
// Overdue lists sessions that are still held or expired but not yet
// released, with expires_at at or before now. Forget drops a session from
// the store and its expiry index.
type Store interface {
	Create(ctx context.Context, session entity.ReservationSession) error
	Get(ctx context.Context, sessionID string) (entity.ReservationSession, error)
	Transition(ctx context.Context, sessionID string, from, to entity.SessionStatus) (bool, error)
	Overdue(ctx context.Context, now time.Time, limit int) ([]string, error)
	Forget(ctx context.Context, sessionID string) error
}

type MemoryStore struct {
	lock     sync.Mutex
	sessions map[string]entity.ReservationSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]entity.ReservationSession),
	}
}

func (s *MemoryStore) Create(_ context.Context, session entity.ReservationSession) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("session %s already exists", session.ID)
	}

	s.sessions[session.ID] = session
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (entity.ReservationSession, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return entity.ReservationSession{}, fmt.Errorf("%w: %s", entity.ErrSessionNotFound, sessionID)
	}
	return session, nil
}

func (s *MemoryStore) Transition(_ context.Context, sessionID string, from, to entity.SessionStatus) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.Status != from {
		return false, nil
	}

	session.Status = to
	s.sessions[sessionID] = session
	return true, nil
}

func (s *MemoryStore) Overdue(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	var overdue []entity.ReservationSession
	for _, session := range s.sessions {
		if session.Status != entity.SessionHeld && session.Status != entity.SessionExpired {
			continue
		}
		if session.Overdue(now) {
			overdue = append(overdue, session)
		}
	}

	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].ExpiresAt.Before(overdue[j].ExpiresAt)
	})
	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}

	ids := make([]string, 0, len(overdue))
	for _, session := range overdue {
		ids = append(ids, session.ID)
	}
	return ids, nil
}

func (s *MemoryStore) Forget(_ context.Context, sessionID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.sessions, sessionID)
	return nil
}
