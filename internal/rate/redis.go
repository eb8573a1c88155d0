package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "crl:"

// The ring is a hash of bucket epoch -> count. Stale fields are pruned on
// every call so the hash never holds more than Buckets fields.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local current = tonumber(ARGV[1])
local buckets = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local oldest = current - buckets + 1
local fields = redis.call("HGETALL", key)
local total = 0
local epochs = {}
for i = 1, #fields, 2 do
	local e = tonumber(fields[i])
	local c = tonumber(fields[i + 1])
	if e < oldest then
		redis.call("HDEL", key, fields[i])
	else
		total = total + c
		table.insert(epochs, e)
		table.insert(epochs, c)
	end
end

if total >= capacity then
	local reply = {0, total}
	for i = 1, #epochs do
		table.insert(reply, epochs[i])
	end
	return reply
end

redis.call("HINCRBY", key, ARGV[1], 1)
redis.call("PEXPIRE", key, ttl)
return {1, total + 1}
`)

// Redis is a sliding-window limiter shared by every process using the same
// Redis deployment.
type Redis struct {
	redis redis.UniversalClient
	cfg   Config
}

// NewRedis returns a Redis-backed limiter for cfg.
func NewRedis(client redis.UniversalClient, cfg Config) (*Redis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Redis{redis: client, cfg: cfg}, nil
}

func (r *Redis) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	capacity := r.cfg.Capacity()
	current := now.UnixNano() / int64(r.cfg.bucketWidth())

	res, err := allowScript.Run(ctx, r.redis, []string{redisKeyPrefix + key},
		current,
		r.cfg.Buckets,
		capacity,
		(r.cfg.Window + r.cfg.bucketWidth()).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) < 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	total := int(res[1])
	if res[0] == 1 {
		return Decision{Allowed: true, Limit: capacity, Remaining: capacity - total}, nil
	}

	pairs := res[2:]
	epochs := make([]int64, 0, len(pairs)/2)
	counts := make([]int, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		epochs = append(epochs, pairs[i])
		counts = append(counts, int(pairs[i+1]))
	}
	return Decision{
		Allowed:    false,
		Limit:      capacity,
		RetryAfter: retryAfter(r.cfg, epochs, counts, current, total, now),
	}, nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
