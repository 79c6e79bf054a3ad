package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens)}
`

// TokenBucket keeps bucket state in redis so every replica draws from the same bucket per key.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script
}

func NewTokenBucket(client redis.Scripter) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// Decision is the limiter verdict for one request.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

func (t *TokenBucket) Take(ctx context.Context, key string, policy Policy) (Decision, error) {
	if t == nil || t.client == nil {
		return Decision{}, errors.New("token bucket not configured")
	}
	if key == "" {
		return Decision{}, errors.New("rate limit key is empty")
	}
	if err := policy.validate(); err != nil {
		return Decision{}, err
	}

	res, err := t.script.Run(ctx, t.client, []string{key},
		policy.Rate,
		policy.Burst,
		bucketTTL(policy).Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) < 2 {
		return Decision{}, errors.New("invalid rate limit script response")
	}

	decision := Decision{
		Allowed:   toInt(res[0]) == 1,
		Remaining: toFloat(res[1]),
	}
	if !decision.Allowed {
		decision.RetryAfter = policy.retryAfter(decision.Remaining)
	}
	return decision, nil
}

// bucketTTL keeps idle buckets around for twice the time a full refill takes.
func bucketTTL(policy Policy) time.Duration {
	seconds := math.Ceil((float64(policy.Burst) / policy.Rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func toInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		parsed, _ := strconv.ParseInt(val, 10, 64)
		return parsed
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case string:
		parsed, _ := strconv.ParseFloat(val, 64)
		return parsed
	default:
		return 0
	}
}
