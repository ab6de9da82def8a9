package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements the lease queue on Redis with two structures: a
// pending LIST and a leased ZSET scored by lease deadline. Claim, renew,
// release, and requeue are Lua scripts so each step is atomic; a claimed
// item is always in exactly one of the two structures.
type RedisQueue struct {
	client    *redis.Client
	namespace string

	// PollInterval is how often Pop retries the claim script while waiting.
	PollInterval time.Duration

	// PopWait bounds how long Pop blocks before returning ErrEmpty.
	PopWait time.Duration
}

// RedisConfig configures the Redis-backed queue.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// claimScript reclaims expired leases, then atomically moves the head of the
// pending list into the leased set.
// KEYS[1] = pending list, KEYS[2] = leased zset
// ARGV[1] = now (unix ms), ARGV[2] = lease deadline (unix ms)
var claimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, payload in ipairs(expired) do
	redis.call('ZREM', KEYS[2], payload)
	redis.call('RPUSH', KEYS[1], payload)
end
local payload = redis.call('LPOP', KEYS[1])
if not payload then
	return false
end
redis.call('ZADD', KEYS[2], ARGV[2], payload)
return payload
`)

// renewScript extends a lease only if it still exists.
// KEYS[1] = leased zset; ARGV[1] = payload, ARGV[2] = new deadline (unix ms)
var renewScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
	return 1
end
return 0
`)

// requeueScript moves a leased item back to pending if the lease still exists.
// KEYS[1] = pending list, KEYS[2] = leased zset; ARGV[1] = payload
var requeueScript = redis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 1 then
	redis.call('RPUSH', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// NewRedis connects to Redis and verifies connectivity.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "runs"
	}
	return &RedisQueue{
		client:       client,
		namespace:    ns,
		PollInterval: 250 * time.Millisecond,
		PopWait:      5 * time.Second,
	}, nil
}

func (q *RedisQueue) pendingKey() string { return q.namespace + ":pending" }
func (q *RedisQueue) leasedKey() string  { return q.namespace + ":leased" }

func (q *RedisQueue) Push(ctx context.Context, item Item) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.RPush(ctx, q.pendingKey(), payload).Err(); err != nil {
		return fmt.Errorf("push run: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, lease time.Duration) (Handle, error) {
	deadline := time.Now().Add(q.PopWait)
	for {
		now := time.Now()
		res, err := claimScript.Run(ctx, q.client,
			[]string{q.pendingKey(), q.leasedKey()},
			now.UnixMilli(), now.Add(lease).UnixMilli()).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("claim run: %w", err)
		}
		if payload, ok := res.(string); ok && payload != "" {
			var item Item
			if err := json.Unmarshal([]byte(payload), &item); err != nil {
				// A malformed payload can never be processed; drop it
				// rather than poison the queue.
				_ = q.client.ZRem(ctx, q.leasedKey(), payload).Err()
				return nil, fmt.Errorf("unmarshal queue item: %w", err)
			}
			return &redisHandle{queue: q, payload: payload, item: item}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrEmpty
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.PollInterval):
		}
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Depth returns pending and leased counts, for metrics.
func (q *RedisQueue) Depth(ctx context.Context) (pending, leased int64, err error) {
	pending, err = q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("pending depth: %w", err)
	}
	leased, err = q.client.ZCard(ctx, q.leasedKey()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("leased depth: %w", err)
	}
	return pending, leased, nil
}

type redisHandle struct {
	queue   *RedisQueue
	payload string
	item    Item
}

func (h *redisHandle) Item() Item { return h.item }

func (h *redisHandle) Renew(ctx context.Context, lease time.Duration) error {
	res, err := renewScript.Run(ctx, h.queue.client,
		[]string{h.queue.leasedKey()},
		h.payload, time.Now().Add(lease).UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if res == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (h *redisHandle) Release(ctx context.Context) error {
	n, err := h.queue.client.ZRem(ctx, h.queue.leasedKey(), h.payload).Result()
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (h *redisHandle) Abandon(ctx context.Context) error {
	res, err := requeueScript.Run(ctx, h.queue.client,
		[]string{h.queue.pendingKey(), h.queue.leasedKey()},
		h.payload).Int()
	if err != nil {
		return fmt.Errorf("abandon lease: %w", err)
	}
	if res == 0 {
		return ErrLeaseLost
	}
	return nil
}
