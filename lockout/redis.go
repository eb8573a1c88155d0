package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "clo:"

// Each subject is a hash {f: failures, ws: window start ms, lu: locked until
// ms, ip: last failure ip}. The scripts mirror State.ApplyFailure and friends.
var recordFailureScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local duration = tonumber(ARGV[4])
local ip = ARGV[5]
local ttl = tonumber(ARGV[6])

local f = tonumber(redis.call("HGET", key, "f") or "0")
local ws = tonumber(redis.call("HGET", key, "ws") or "0")
local lu = tonumber(redis.call("HGET", key, "lu") or "0")

if lu > 0 and now < lu then
	return {f, ws, lu, 0}
end
if lu > 0 then
	f = 0
	lu = 0
end

if f == 0 or (now - ws) > window then
	f = 1
	ws = now
else
	f = f + 1
end

local tripped = 0
if f >= threshold then
	lu = now + duration
	tripped = 1
end

redis.call("HSET", key, "f", f, "ws", ws, "lu", lu, "ip", ip)
redis.call("PEXPIRE", key, ttl)
return {f, ws, lu, tripped}
`)

var recordSuccessScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local lu = tonumber(redis.call("HGET", key, "lu") or "0")
if lu > 0 and now < lu then
	redis.call("HSET", key, "f", 0, "ws", 0)
	return 0
end
redis.call("DEL", key)
return 1
`)

var releaseExpiredScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local lu = tonumber(redis.call("HGET", key, "lu") or "0")
if lu == 0 or now < lu then
	return 0
end
redis.call("DEL", key)
return 1
`)

// RedisStore keeps lockout state in Redis. Entries expire on their own once
// both the counting window and any lock have lapsed.
type RedisStore struct {
	redis redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{redis: client}
}

func (r *RedisStore) key(subject string) string {
	return redisKeyPrefix + subject
}

func (r *RedisStore) Load(ctx context.Context, subject string) (State, error) {
	vals, err := r.redis.HMGet(ctx, r.key(subject), "f", "ws", "lu", "ip").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return State{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	state := State{Subject: subject}
	if len(vals) != 4 {
		return state, nil
	}
	state.Failures = int(hashInt(vals[0]))
	state.WindowStart = fromMillis(hashInt(vals[1]))
	state.LockedUntil = fromMillis(hashInt(vals[2]))
	if ip, ok := vals[3].(string); ok {
		state.LastFailureIP = ip
	}
	return state, nil
}

func (r *RedisStore) RecordFailure(ctx context.Context, subject, sourceIP string, now time.Time, cfg Config) (State, bool, error) {
	ttl := cfg.Window + cfg.Duration
	res, err := recordFailureScript.Run(ctx, r.redis, []string{r.key(subject)},
		now.UnixMilli(),
		cfg.Window.Milliseconds(),
		cfg.Threshold,
		cfg.Duration.Milliseconds(),
		sourceIP,
		ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return State{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 4 {
		return State{}, false, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	state := State{
		Subject:       subject,
		Failures:      int(res[0]),
		WindowStart:   fromMillis(res[1]),
		LockedUntil:   fromMillis(res[2]),
		LastFailureIP: sourceIP,
	}
	return state, res[3] == 1, nil
}

func (r *RedisStore) RecordSuccess(ctx context.Context, subject string, now time.Time) error {
	if err := recordSuccessScript.Run(ctx, r.redis, []string{r.key(subject)}, now.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) ReleaseExpired(ctx context.Context, subject string, now time.Time) (bool, error) {
	n, err := releaseExpiredScript.Run(ctx, r.redis, []string{r.key(subject)}, now.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

func (r *RedisStore) Delete(ctx context.Context, subject string) error {
	if err := r.redis.Del(ctx, r.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func hashInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
