package ratelimit

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// refillScript implements the shared-store token-bucket algorithm atomically:
// refill min(capacity, tokens + elapsed*rate), then if tokens >= requested
// decrement and allow, else deny with the wait time until enough tokens
// accrue. State is a hash of {tokens, ts_ms}.
const refillScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  ts = now
end

local elapsed = math.max(0, now - ts) / 1000.0
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
local retry_ms = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
else
  local deficit = requested - tokens
  retry_ms = math.ceil(deficit / rate * 1000)
end

redis.call("HMSET", key, "tokens", tostring(tokens), "ts", tostring(now))
redis.call("PEXPIRE", key, ttl)

return {allowed, retry_ms}
`

// penalizeScript applies the same refill as refillScript, then additionally
// drains waitMs worth of tokens at rate, clamped to zero. Used to carry a
// vendor-signaled penalty (429/503 Retry-After) onto the shared bucket, the
// same bucket Acquire's refillScript consults.
const penalizeScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local waitMs = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  ts = now
end

local elapsed = math.max(0, now - ts) / 1000.0
tokens = math.min(capacity, tokens + elapsed * rate)

tokens = tokens - (waitMs / 1000.0) * rate
if tokens < 0 then
  tokens = 0
end

redis.call("HMSET", key, "tokens", tostring(tokens), "ts", tostring(now))
redis.call("PEXPIRE", key, ttl)

return 1
`

// RedisClient is the subset of *redis.Client the shared tier needs.
type RedisClient interface {
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	ScriptLoad(ctx context.Context, script string) *redis.StringCmd
}

// SharedStore is the Redis-backed atomic-script tier of the rate limiter.
type SharedStore struct {
	client      RedisClient
	sha         string
	penalizeSha string
}

// NewSharedStore wraps a redis client. Both scripts are loaded lazily on
// first use and reloaded automatically on a NOSCRIPT reply.
func NewSharedStore(client RedisClient) *SharedStore {
	s := &SharedStore{client: client}
	hash := sha1.Sum([]byte(refillScript))
	s.sha = hex.EncodeToString(hash[:])
	penHash := sha1.Sum([]byte(penalizeScript))
	s.penalizeSha = hex.EncodeToString(penHash[:])
	return s
}

// sharedResult mirrors AcquireResult's wire shape for the shared path.
type sharedResult struct {
	Allowed bool
	RetryMs int64
}

// acquire runs the refill script, retrying once via EVAL (and a script
// reload) if the server reports the cached SHA is unknown.
func (s *SharedStore) acquire(ctx context.Context, key string, capacity int, rate, tokens float64, ttl time.Duration) (sharedResult, error) {
	now := time.Now().UnixMilli()
	args := []any{capacity, rate, tokens, now, ttl.Milliseconds()}

	res, err := s.client.EvalSha(ctx, s.sha, []string{key}, args...).Result()
	if err != nil && isNoScript(err) {
		if _, loadErr := s.client.ScriptLoad(ctx, refillScript).Result(); loadErr != nil {
			return sharedResult{}, loadErr
		}
		res, err = s.client.Eval(ctx, refillScript, []string{key}, args...).Result()
	}
	if err != nil {
		return sharedResult{}, err
	}
	return parseResult(res)
}

// penalize runs the penalize script, retrying once via EVAL (and a script
// reload) if the server reports the cached SHA is unknown.
func (s *SharedStore) penalize(ctx context.Context, key string, capacity int, rate float64, waitMs int64, ttl time.Duration) error {
	now := time.Now().UnixMilli()
	args := []any{capacity, rate, waitMs, now, ttl.Milliseconds()}

	_, err := s.client.EvalSha(ctx, s.penalizeSha, []string{key}, args...).Result()
	if err != nil && isNoScript(err) {
		if _, loadErr := s.client.ScriptLoad(ctx, penalizeScript).Result(); loadErr != nil {
			return loadErr
		}
		_, err = s.client.Eval(ctx, penalizeScript, []string{key}, args...).Result()
	}
	return err
}

func isNoScript(err error) bool {
	return err != nil && len(err.Error()) >= 8 && err.Error()[:8] == "NOSCRIPT"
}

func parseResult(res any) (sharedResult, error) {
	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return sharedResult{}, errors.New("ratelimit: unexpected script reply shape")
	}
	allowed, _ := arr[0].(int64)
	retryMs, _ := arr[1].(int64)
	return sharedResult{Allowed: allowed == 1, RetryMs: retryMs}, nil
}
