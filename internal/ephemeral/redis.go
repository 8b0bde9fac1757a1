package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

// toggleScript runs the ToggleRequest transition server-side.
//
// KEYS: pendingOn, pendingOff, [counter], [mirror]
// ARGV: member, durable(0|1), baseline, hasCounter(0|1), mirrorMember
var toggleScript = redis.NewScript(`
local member = ARGV[1]
local durable = ARGV[2] == "1"
local baseline = tonumber(ARGV[3])
local counter
local mirror
local i = 3
if ARGV[4] == "1" then
  counter = KEYS[i]
  i = i + 1
end
if ARGV[5] ~= "" then
  mirror = KEYS[i]
end

local on
if redis.call("SISMEMBER", KEYS[1], member) == 1 then
  redis.call("SREM", KEYS[1], member)
  on = false
elseif redis.call("SISMEMBER", KEYS[2], member) == 1 then
  redis.call("SREM", KEYS[2], member)
  on = true
elseif durable then
  redis.call("SADD", KEYS[2], member)
  on = false
else
  redis.call("SADD", KEYS[1], member)
  on = true
end

if mirror then
  if on then
    redis.call("SADD", mirror, ARGV[5])
  else
    redis.call("SREM", mirror, ARGV[5])
  end
end

local count = 0
if counter then
  local cur = redis.call("GET", counter)
  if cur then
    count = tonumber(cur)
  else
    count = baseline
  end
  if on then
    count = count + 1
  elseif count > 0 then
    count = count - 1
  end
  redis.call("SET", counter, count)
end

if on then
  return {1, count}
end
return {0, count}
`)

// decrScript decrements a counter without going below zero.
var decrScript = redis.NewScript(`
local v = tonumber(redis.call("GET", KEYS[1]) or "0")
if v > 0 then
  v = v - 1
end
redis.call("SET", KEYS[1], v)
return v
`)

// Redis is a Store backed by a Redis server.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps a go-redis client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

var _ Store = (*Redis)(nil)

func (r *Redis) Count(ctx context.Context, key string) (int64, bool, error) {
	n, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("count %s: %w", key, err)
	}
	return n, true, nil
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

func (r *Redis) Decr(ctx context.Context, key string) (int64, error) {
	n, err := decrScript.Run(ctx, r.client, []string{key}).Int64()
	if err != nil {
		return 0, fmt.Errorf("decr %s: %w", key, err)
	}
	return n, nil
}

func (r *Redis) IsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("is member %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) AddMembers(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := r.client.SAdd(ctx, key, toArgs(members)...).Err(); err != nil {
		return fmt.Errorf("add members %s: %w", key, err)
	}
	return nil
}

func (r *Redis) RemoveMembers(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := r.client.SRem(ctx, key, toArgs(members)...).Err(); err != nil {
		return fmt.Errorf("remove members %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Members(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("members %s: %w", key, err)
	}
	slices.Sort(members)
	return members, nil
}

func (r *Redis) AddMembersTTL(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, toArgs(members)...)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add members ttl %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s*: %w", prefix, err)
	}
	// SCAN may return a key more than once.
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

func (r *Redis) Toggle(ctx context.Context, req ToggleRequest) (ToggleResult, error) {
	keys := []string{req.PendingOn, req.PendingOff}
	hasCounter := "0"
	if req.Counter != "" {
		keys = append(keys, req.Counter)
		hasCounter = "1"
	}
	mirrorMember := ""
	if req.Mirror != "" {
		keys = append(keys, req.Mirror)
		mirrorMember = req.MirrorMember
	}
	durable := "0"
	if req.Durable {
		durable = "1"
	}

	vals, err := toggleScript.Run(ctx, r.client, keys, req.Member, durable, req.Baseline, hasCounter, mirrorMember).Int64Slice()
	if err != nil {
		return ToggleResult{}, fmt.Errorf("toggle %s: %w", req.PendingOn, err)
	}
	if len(vals) != 2 {
		return ToggleResult{}, fmt.Errorf("toggle %s: unexpected reply %v", req.PendingOn, vals)
	}
	return ToggleResult{On: vals[0] == 1, Count: vals[1]}, nil
}

func toArgs(members []string) []any {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}
