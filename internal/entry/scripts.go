package entry

import "github.com/redis/go-redis/v9"

// Server-side scripts keep the order list and info hash consistent without
// round trips. redis.Script runs EVALSHA first and falls back to EVAL when
// the script is not cached yet.

// addScript pushes an aid onto one end of the order list and stores its
// payload, rejecting duplicates. KEYS: order, info. ARGV: aid, payload,
// "start"|"end". Returns the new list length, or -1 on a duplicate aid.
var addScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[2], ARGV[1]) == 1 then
  return -1
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
if ARGV[3] == "start" then
  return redis.call("LPUSH", KEYS[1], ARGV[1])
end
return redis.call("RPUSH", KEYS[1], ARGV[1])
`)

// popScript pops an aid from one end together with its payload. KEYS:
// order, info. ARGV: "start"|"end". Returns {aid, payload}, {aid} when the
// payload is missing, or nil when the list is empty.
var popScript = redis.NewScript(`
local aid
if ARGV[1] == "start" then
  aid = redis.call("LPOP", KEYS[1])
else
  aid = redis.call("RPOP", KEYS[1])
end
if not aid then
  return false
end
local payload = redis.call("HGET", KEYS[2], aid)
redis.call("HDEL", KEYS[2], aid)
if not payload then
  return {aid}
end
return {aid, payload}
`)

// moveScript repositions an aid relative to the entry at a pivot index.
// KEYS: order. ARGV: aid, index, whence ("absolute"|"before"|"after").
// Returns 1 when moved, 0 when the pivot index or the aid is absent.
var moveScript = redis.NewScript(`
local order = redis.call("LRANGE", KEYS[1], 0, -1)
local n = #order

local index = tonumber(ARGV[2])
if index < 0 then
  index = index + n
end
if index < 0 or index >= n then
  return 0
end

local aid = ARGV[1]
local cur
for i = 1, n do
  if order[i] == aid then
    cur = i - 1
    break
  end
end
if cur == nil then
  return 0
end

local pivot = order[index + 1]
if pivot == aid then
  return 1
end

local whence = ARGV[3]
if whence == "absolute" then
  if cur > index then
    whence = "before"
  else
    whence = "after"
  end
end

redis.call("LREM", KEYS[1], 1, aid)
if whence == "before" then
  redis.call("LINSERT", KEYS[1], "BEFORE", pivot, aid)
else
  redis.call("LINSERT", KEYS[1], "AFTER", pivot, aid)
end
return 1
`)

// shuffleScript permutes the order list with Fisher-Yates. KEYS: order.
// ARGV: seed (non-negative, < 2^32). The generator is the rand48 LCG that
// Redis backs math.random with, written out in 16-bit limb arithmetic so
// every Lua VM computes the identical permutation (all intermediates stay
// exact in doubles). Returns the list length.
var shuffleScript = redis.NewScript(`
local order = redis.call("LRANGE", KEYS[1], 0, -1)
local n = #order
if n <= 1 then
  return n
end

local seed = tonumber(ARGV[1]) % 4294967296
local x0 = 0x330E
local x1 = seed % 65536
local x2 = math.floor(seed / 65536) % 65536

local function randint(limit)
  local p0 = 0xE66D * x0 + 0xB
  local n0 = p0 % 65536
  local c0 = (p0 - n0) / 65536
  local p1 = 0xE66D * x1 + 0xDEEC * x0 + c0
  local n1 = p1 % 65536
  local c1 = (p1 - n1) / 65536
  x2 = (0xE66D * x2 + 0xDEEC * x1 + 0x5 * x0 + c1) % 65536
  x0 = n0
  x1 = n1
  local lrand = x2 * 32768 + math.floor(x1 / 2)
  local r = (lrand % 2147483647) / 2147483647
  return math.floor(r * limit) + 1
end

for i = n, 2, -1 do
  local j = randint(i)
  order[i], order[j] = order[j], order[i]
end

redis.call("DEL", KEYS[1])
for i = 1, n, 1000 do
  redis.call("RPUSH", KEYS[1], unpack(order, i, math.min(i + 999, n)))
end
return n
`)
