// Package redisstore keeps reservation sessions and checkouts in Redis.
// Each record is a hash with a status field and a JSON data field; status
// changes go through a Lua compare-and-swap so concurrent writers never
// overwrite each other's transitions.
package redisstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const (
	fieldStatus = "status"
	fieldData   = "data"
)

// ARGV: expected status, new status, [member to drop from the index in KEYS[2]].
var compareAndSwapStatus = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
if KEYS[2] and ARGV[3] then
	redis.call('ZREM', KEYS[2], ARGV[3])
end
return 1
`)

// KEYS: session hash, expiry index. ARGV: status, data, expire-at ms,
// index score, session ID. Returns 0 when the session already exists.
var createIndexed = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIREAT', KEYS[1], ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
return 1
`)

func transition(ctx context.Context, rdb redis.Scripter, keys []string, args ...any) (bool, error) {
	n, err := compareAndSwapStatus.Run(ctx, rdb, keys, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
