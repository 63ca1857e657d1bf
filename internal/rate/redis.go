package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims, counts and conditionally records in one round
// trip. KEYS[1] is the sorted set; ARGV is now_ms, window_ms, limit, member.
// Returns {allowed, count, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= limit then
    local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
    return {0, count, oldest[2]}
end

redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, count + 1, '0'}
`)

// RedisWindow keeps one sorted set per key, scored by event time.
type RedisWindow struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisWindow returns a window over client. Keys are stored under prefix
// (default "arw:").
func NewRedisWindow(client redis.UniversalClient, prefix string, now func() time.Time) *RedisWindow {
	if prefix == "" {
		prefix = "arw:"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisWindow{redis: client, prefix: prefix, now: now}
}

// CheckAndRecord implements Window.
func (r *RedisWindow) CheckAndRecord(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if err := validate(limit, window); err != nil {
		return Decision{}, err
	}

	now := r.now()
	res, err := slidingWindowScript.Run(ctx, r.redis,
		[]string{r.prefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrBackendUnavailable, res)
	}

	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	d := Decision{Allowed: allowed == 1, Count: int(count), Limit: limit}
	if !d.Allowed {
		oldestMs, err := strconv.ParseFloat(fmt.Sprint(res[2]), 64)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: bad oldest score: %v", ErrBackendUnavailable, err)
		}
		d.RetryAfter = retryAfter(time.UnixMilli(int64(oldestMs)), window, now)
	}
	return d, nil
}

// Prune is a no-op; keys expire on their own.
func (r *RedisWindow) Prune(context.Context) error {
	return nil
}
