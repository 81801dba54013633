package quota

// checkAndDecrementScript atomically checks remaining quota and decrements
// it if sufficient. It never reads total/used from the repository; the
// caller must have warmed the key first via Warm.
//
// KEYS[1] = quota key (a Redis hash: total, used, reset_at)
// ARGV[1] = requested amount
//
// Returns {allowed (-1 = key missing, 0 = denied, 1 = allowed), used, total}.
const checkAndDecrementScript = `
local key = KEYS[1]
local requested = tonumber(ARGV[1])

if redis.call("EXISTS", key) == 0 then
  return {-1, 0, 0}
end

local data = redis.call("HMGET", key, "total", "used")
local total = tonumber(data[1])
local used = tonumber(data[2])

if used + requested > total then
  return {0, used, total}
end

used = used + requested
redis.call("HSET", key, "used", used)
return {1, used, total}
`

// warmIfAbsentScript seeds a quota hash from the repository snapshot only
// if the key does not already exist in Redis, so a warm racing with an
// in-flight decrement never clobbers usage recorded since the last warm.
//
// KEYS[1] = quota key
// ARGV[1] = total
// ARGV[2] = used
// ARGV[3] = ttl_ms
//
// Returns 1 if seeded, 0 if the key already existed.
const warmIfAbsentScript = `
local key = KEYS[1]
local total = ARGV[1]
local used = ARGV[2]
local ttl = tonumber(ARGV[3])

if redis.call("EXISTS", key) == 1 then
  return 0
end

redis.call("HSET", key, "total", total, "used", used)
redis.call("PEXPIRE", key, ttl)
return 1
`

// refundScript atomically gives back a previously decremented amount,
// clamped so used never goes negative. Used when a fatal upstream error
// means the request never actually consumed the quota it reserved.
//
// KEYS[1] = quota key
// ARGV[1] = amount to refund
//
// Returns the new used value.
const refundScript = `
local key = KEYS[1]
local amount = tonumber(ARGV[1])

local used = tonumber(redis.call("HGET", key, "used"))
if used == nil then
  return 0
end

used = used - amount
if used < 0 then
  used = 0
end
redis.call("HSET", key, "used", used)
return used
`
