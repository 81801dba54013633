package ratelimit

// slidingWindowScript enforces a sliding-window request-count limit.
// KEYS[1] = counter key (a Redis sorted set of request timestamps)
// ARGV[1] = now (unix millis)
// ARGV[2] = window_ms
// ARGV[3] = limit
//
// Returns {allowed (0/1), remaining, retry_after_ms}.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
local count = redis.call("ZCARD", key)

if count < limit then
  redis.call("ZADD", key, now, now .. "-" .. math.random(1, 1000000000))
  redis.call("PEXPIRE", key, window)
  return {1, limit - count - 1, 0}
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local retry_after = window
if oldest[2] ~= nil then
  retry_after = (tonumber(oldest[2]) + window) - now
  if retry_after < 0 then
    retry_after = 0
  end
end
return {0, 0, retry_after}
`

// tokenBucketScript enforces a token-bucket limit with continuous refill.
// KEYS[1] = bucket key (a Redis hash: tokens, updated_at)
// ARGV[1] = now (unix millis)
// ARGV[2] = capacity
// ARGV[3] = refill_per_ms
// ARGV[4] = requested
//
// Returns {allowed (0/1), tokens_left, retry_after_ms}.
const tokenBucketScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_per_ms = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "updated_at")
local tokens = tonumber(data[1])
local updated_at = tonumber(data[2])

if tokens == nil then
  tokens = capacity
  updated_at = now
end

local elapsed = now - updated_at
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * refill_per_ms)
  updated_at = now
end

if tokens >= requested then
  tokens = tokens - requested
  redis.call("HMSET", key, "tokens", tokens, "updated_at", updated_at)
  redis.call("PEXPIRE", key, 86400000)
  return {1, tokens, 0}
end

local deficit = requested - tokens
local retry_after = 0
if refill_per_ms > 0 then
  retry_after = math.ceil(deficit / refill_per_ms)
end
redis.call("HMSET", key, "tokens", tokens, "updated_at", updated_at)
redis.call("PEXPIRE", key, 86400000)
return {0, tokens, retry_after}
`
