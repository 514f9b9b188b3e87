package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Each key is a sorted set of unit ids scored by their timestamp in milliseconds.
// The prune, count and add run as one script so concurrent requests from the
// same user can never both take the last unit.
var windowScript = goredis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
local cutoff = ARGV[2]
local window = ARGV[3]
local limit = tonumber(ARGV[4])
local member = ARGV[5]
local consume = ARGV[6] == "1"

redis.call("ZREMRANGEBYSCORE", key, "-inf", cutoff)
local count = redis.call("ZCARD", key)
local consumed = 0
if consume and count < limit then
	redis.call("ZADD", key, now, member)
	count = count + 1
	consumed = 1
end
if count > 0 then
	redis.call("PEXPIRE", key, window)
end

local oldest = -1
local first = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if first[2] then
	oldest = tonumber(first[2])
end
return {count, consumed, oldest}
`)

type RedisStore struct {
	rdb goredis.Scripter
}

func NewRedisStore(rdb goredis.Scripter) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Consume(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Window, error) {
	return s.run(ctx, key, now, limit, window, true)
}

func (s *RedisStore) Peek(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	return s.run(ctx, key, now, 0, window, false)
}

func (s *RedisStore) run(ctx context.Context, key string, now time.Time, limit int, window time.Duration, consume bool) (Window, error) {
	if s == nil || s.rdb == nil {
		return Window{}, fmt.Errorf("redis rate limit store not initialized")
	}
	flag := "0"
	if consume {
		flag = "1"
	}
	nowMS := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMS, uuid.NewString())
	args := []interface{}{
		strconv.FormatInt(nowMS, 10),
		strconv.FormatInt(nowMS-window.Milliseconds(), 10),
		strconv.FormatInt(window.Milliseconds(), 10),
		limit,
		member,
		flag,
	}
	res, err := windowScript.Run(ctx, s.rdb, []string{key}, args...).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Window{}, fmt.Errorf("rate limit script: unexpected reply length %d", len(res))
	}
	w := Window{Count: int(res[0]), Consumed: res[1] == 1}
	if res[2] >= 0 {
		w.Oldest = time.UnixMilli(res[2]).UTC()
	}
	return w, nil
}
