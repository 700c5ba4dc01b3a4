package api

import (
    "context"
    "time"

    "github.com/redis/go-redis/v9"
)

// TriggerLimiter throttles the on-demand sync trigger. Every run fans out
// into several provider API calls, so unbounded manual triggering would
// burn through the provider's rate allowance.
type TriggerLimiter struct {
    Redis      *redis.Client
    Key        string
    Capacity   int
    RefillRate float64 // tokens per second
}

var triggerBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(data[1])
local last = tonumber(data[2])

if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = now - last
if delta < 0 then delta = 0 end

local filled = tokens + (delta * refill_rate)
if filled > capacity then filled = capacity end

local allowed = 0
if filled >= 1 then
  allowed = 1
  filled = filled - 1
end

redis.call('HSET', key, 'tokens', filled, 'last', now)
redis.call('EXPIRE', key, ttl)

return allowed
`)

// Allow reports whether one more trigger may run now. A limiter with no
// redis client or a non-positive budget admits everything.
func (l *TriggerLimiter) Allow(ctx context.Context) (bool, error) {
    if l.Redis == nil || l.Capacity <= 0 || l.RefillRate <= 0 {
        return true, nil
    }

    key := l.Key
    if key == "" {
        key = "bank-sync:trigger-bucket"
    }

    now := float64(time.Now().UnixNano()) / 1e9
    ttl := int64(float64(l.Capacity)/l.RefillRate) + 1

    res, err := triggerBucketScript.Run(ctx, l.Redis, []string{key}, l.Capacity, l.RefillRate, now, ttl).Int64()
    if err != nil {
        return false, err
    }
    return res == 1, nil
}
