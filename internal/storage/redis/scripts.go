package redis

const (
	// appendRecordScript atomically writes a raw usage record and its indexes
	appendRecordScript = `
local record_key = KEYS[1]    -- scrollcap:usage:record:{id}
local day_index = KEYS[2]     -- scrollcap:usage:day:{day}
local days_set = KEYS[3]      -- scrollcap:usage:days
local live_key = KEYS[4]      -- scrollcap:usage:live:{day}

local id = ARGV[1]
local app = ARGV[2]
local distance = ARGV[3]
local timestamp = ARGV[4]
local day = ARGV[5]
local day_score = ARGV[6]

-- Records are immutable: a replayed append is a no-op
if redis.call('EXISTS', record_key) == 1 then
  return 0
end

redis.call('HSET', record_key,
  'id', id,
  'app', app,
  'distance', distance,
  'timestamp', timestamp,
  'day', day
)

redis.call('SADD', day_index, id)
redis.call('ZADD', days_set, day_score, day)
redis.call('HINCRBYFLOAT', live_key, app, distance)

return 1
`

	// archiveAndPruneScript folds raw records of every day before the cutoff
	// into per-day/per-app totals and deletes the raw rows in one step
	archiveAndPruneScript = `
local days_set = KEYS[1]      -- scrollcap:usage:days
local archived_set = KEYS[2]  -- scrollcap:usage:archived

local before_score = ARGV[1]
local prefix = ARGV[2]

local days = redis.call('ZRANGEBYSCORE', days_set, '-inf', '(' .. before_score)
local totals_upserted = 0
local records_pruned = 0

for _, day in ipairs(days) do
  local day_index = prefix .. 'usage:day:' .. day
  local live_key = prefix .. 'usage:live:' .. day
  local archive_key = prefix .. 'usage:archive:' .. day

  local sums = {}
  local ids = redis.call('SMEMBERS', day_index)
  for _, id in ipairs(ids) do
    local record_key = prefix .. 'usage:record:' .. id
    local app = redis.call('HGET', record_key, 'app')
    local distance = tonumber(redis.call('HGET', record_key, 'distance') or '0')
    if app then
      sums[app] = (sums[app] or 0) + distance
    end
    redis.call('DEL', record_key)
    records_pruned = records_pruned + 1
  end

  -- Upsert keyed by day+app: merge into any total archived earlier
  for app, total in pairs(sums) do
    redis.call('HINCRBYFLOAT', archive_key, app, tostring(total))
    totals_upserted = totals_upserted + 1
  end

  redis.call('DEL', day_index, live_key)
  redis.call('ZREM', days_set, day)
  redis.call('ZADD', archived_set, tonumber((string.gsub(day, '-', ''))), day)
end

return {#days, totals_upserted, records_pruned}
`

	// guardedWriteScript sets or deletes a settings field unless the lock
	// governing it is still active
	guardedWriteScript = `
local settings_key = KEYS[1]  -- scrollcap:settings

local lock_field = ARGV[1]
local now_ms = tonumber(ARGV[2])
local op = ARGV[3]
local field = ARGV[4]
local value = ARGV[5]

local lock_until = tonumber(redis.call('HGET', settings_key, lock_field) or '0')
if lock_until > now_ms then
  return redis.error_reply('LOCKED')
end

if op == 'del' then
  redis.call('HDEL', settings_key, field)
else
  redis.call('HSET', settings_key, field, value)
end

return 'OK'
`

	// extendLockScript moves a lock expiry, refusing to shorten an active lock
	extendLockScript = `
local settings_key = KEYS[1]  -- scrollcap:settings

local lock_field = ARGV[1]
local now_ms = tonumber(ARGV[2])
local until_ms = tonumber(ARGV[3])

local current = tonumber(redis.call('HGET', settings_key, lock_field) or '0')
if current > now_ms and until_ms < current then
  return redis.error_reply('LOCKED')
end

redis.call('HSET', settings_key, lock_field, ARGV[3])

return 'OK'
`
)

// lockedReply is the error text returned by the guarded scripts
const lockedReply = "LOCKED"
