package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"boxoffice/entity"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "reservation:session:"
	expiryIndexKey   = "reservation:expiry"

	defaultRetention = 24 * time.Hour
)

// SessionStore indexes held sessions by expiry in a sorted set so the
// sweeper can find overdue ones without scanning every key.
type SessionStore struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewSessionStore(rdb *redis.Client) SessionStore {
	return SessionStore{
		rdb:       rdb,
		retention: defaultRetention,
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s SessionStore) Create(ctx context.Context, session entity.ReservationSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshalling session: %w", err)
	}

	keys := []string{sessionKey(session.ID), expiryIndexKey}
	created, err := createIndexed.Run(ctx, s.rdb, keys,
		string(session.Status),
		data,
		session.ExpiresAt.Add(s.retention).UnixMilli(),
		session.ExpiresAt.UnixMilli(),
		session.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("session %s already exists", session.ID)
	}

	return nil
}

func (s SessionStore) Get(ctx context.Context, sessionID string) (entity.ReservationSession, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return entity.ReservationSession{}, fmt.Errorf("getting session: %w", err)
	}

	data, ok := fields[fieldData]
	if !ok {
		return entity.ReservationSession{}, fmt.Errorf("%w: %s", entity.ErrSessionNotFound, sessionID)
	}

	var session entity.ReservationSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return entity.ReservationSession{}, fmt.Errorf("unmarshalling session: %w", err)
	}
	session.Status = entity.SessionStatus(fields[fieldStatus])

	return session, nil
}

func (s SessionStore) Transition(ctx context.Context, sessionID string, from, to entity.SessionStatus) (bool, error) {
	keys := []string{sessionKey(sessionID)}
	args := []any{string(from), string(to)}

	// Expired sessions stay indexed until released so the sweeper can
	// finish them after a crash.
	if to == entity.SessionCommitted || to == entity.SessionReleased {
		keys = append(keys, expiryIndexKey)
		args = append(args, sessionID)
	}

	ok, err := transition(ctx, s.rdb, keys, args...)
	if err != nil {
		return false, fmt.Errorf("transitioning session %s from %s to %s: %w", sessionID, from, to, err)
	}
	return ok, nil
}

func (s SessionStore) Overdue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, expiryIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing overdue sessions: %w", err)
	}
	return ids, nil
}

func (s SessionStore) Forget(ctx context.Context, sessionID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(sessionID))
		pipe.ZRem(ctx, expiryIndexKey, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("forgetting session %s: %w", sessionID, err)
	}
	return nil
}
