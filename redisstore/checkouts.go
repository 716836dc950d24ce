package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"boxoffice/entity"

	"github.com/redis/go-redis/v9"
)

const checkoutKeyPrefix = "checkout:"

type CheckoutStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCheckoutStore(rdb *redis.Client, ttl time.Duration) CheckoutStore {
	return CheckoutStore{
		rdb: rdb,
		ttl: ttl,
	}
}

func checkoutKey(id string) string {
	return checkoutKeyPrefix + id
}

func (s CheckoutStore) Save(ctx context.Context, c entity.Checkout) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling checkout: %w", err)
	}

	key := checkoutKey(c.ID)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldStatus, string(c.State), fieldData, data)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing checkout: %w", err)
	}

	return nil
}

func (s CheckoutStore) Get(ctx context.Context, checkoutID string) (entity.Checkout, error) {
	fields, err := s.rdb.HGetAll(ctx, checkoutKey(checkoutID)).Result()
	if err != nil {
		return entity.Checkout{}, fmt.Errorf("getting checkout: %w", err)
	}

	data, ok := fields[fieldData]
	if !ok {
		return entity.Checkout{}, fmt.Errorf("%w: %s", entity.ErrCheckoutNotFound, checkoutID)
	}

	var c entity.Checkout
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return entity.Checkout{}, fmt.Errorf("unmarshalling checkout: %w", err)
	}
	c.State = entity.CheckoutState(fields[fieldStatus])

	return c, nil
}

func (s CheckoutStore) Transition(ctx context.Context, checkoutID string, from, to entity.CheckoutState) (bool, error) {
	ok, err := transition(ctx, s.rdb, []string{checkoutKey(checkoutID)}, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("transitioning checkout %s from %s to %s: %w", checkoutID, from, to, err)
	}
	return ok, nil
}
