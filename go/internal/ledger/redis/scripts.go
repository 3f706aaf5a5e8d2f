package redis

import goredis "github.com/redis/go-redis/v9"

// Each script runs atomically on the Redis server. A nil reply (Lua false)
// means no match and surfaces as goredis.Nil.

// KEYS[1] item hash, KEYS[2] live index
// ARGV: item_id, title, description, starting_price, end_ms, now_ms
var createItemScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'id', ARGV[1],
	'title', ARGV[2],
	'description', ARGV[3],
	'starting_price', ARGV[4],
	'current_bid', ARGV[4],
	'highest_bidder_id', '',
	'auction_end_time', ARGV[5],
	'status', 'LIVE',
	'winner_id', '',
	'final_price', '',
	'version', 0,
	'created_at', ARGV[6],
	'updated_at', ARGV[6])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
return 1
`)

// KEYS[1] item hash
// ARGV: expected_version, require_below, require_live, require_before_end,
//
//	now_ms, new_bid, new_bidder
var conditionalUpdateScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
local f = redis.call('HMGET', KEYS[1], 'version', 'current_bid', 'status', 'auction_end_time')
local version = tonumber(f[1])
if version ~= tonumber(ARGV[1]) then
	return false
end
if tonumber(f[2]) >= tonumber(ARGV[2]) then
	return false
end
if ARGV[3] == '1' and f[3] ~= 'LIVE' then
	return false
end
if ARGV[4] == '1' and tonumber(f[4]) <= tonumber(ARGV[5]) then
	return false
end
redis.call('HSET', KEYS[1],
	'current_bid', ARGV[6],
	'highest_bidder_id', ARGV[7],
	'version', version + 1,
	'updated_at', ARGV[5])
return redis.call('HGETALL', KEYS[1])
`)

// KEYS[1] item hash, KEYS[2] live index
// ARGV: now_ms, item_id
var closeItemScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
local f = redis.call('HMGET', KEYS[1], 'status', 'auction_end_time', 'highest_bidder_id', 'current_bid')
if f[1] ~= 'LIVE' then
	return false
end
if tonumber(f[2]) > tonumber(ARGV[1]) then
	return false
end
local winner = f[3] or ''
local price = ''
if winner ~= '' then
	price = f[4]
end
redis.call('HSET', KEYS[1],
	'status', 'ENDED',
	'winner_id', winner,
	'final_price', price,
	'updated_at', ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[2])
return redis.call('HGETALL', KEYS[1])
`)

// KEYS[1] bid list, KEYS[2] logged versions set, KEYS[3] bidder index
// ARGV: version, encoded bid, created_at_ms
var appendBidScript = goredis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 1 then
	redis.call('LPUSH', KEYS[1], ARGV[2])
	redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
end
return 1
`)
