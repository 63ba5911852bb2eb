package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkAndIncr only increments when a slot is free, so a refused call leaves the
// counter untouched. The key's TTL is the window: it is set on the first slot
// and the whole counter disappears when the window ends.
var checkAndIncr = redis.NewScript(`
local cap = tonumber(ARGV[1])
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= cap then
	return 0
end
n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// RedisWindow shares one send window between every process pointed at the same key.
type RedisWindow struct {
	rdb      redis.Scripter
	key      string
	capacity int
	duration time.Duration
}

// NewRedisWindow returns a Redis-backed window. key defaults to "mailer:rl:send".
func NewRedisWindow(rdb redis.Scripter, key string, capacity int) *RedisWindow {
	if key == "" {
		key = "mailer:rl:send"
	}
	if capacity < 0 {
		capacity = 0
	}
	return &RedisWindow{rdb: rdb, key: key, capacity: capacity, duration: WindowDuration}
}

// Allow implements Limiter. Redis errors refuse the slot and are returned.
func (w *RedisWindow) Allow(ctx context.Context) (bool, error) {
	if w.capacity == 0 {
		return false, nil
	}
	n, err := checkAndIncr.Run(ctx, w.rdb, []string{w.key},
		strconv.Itoa(w.capacity), strconv.FormatInt(w.duration.Milliseconds(), 10)).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate window: %w", err)
	}
	return n == 1, nil
}
