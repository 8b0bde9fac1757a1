package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPollTimeout bounds each BRPOP so Receive notices cancellation.
const DefaultPollTimeout = time.Second

// Redis is a Queue backed by a Redis list. Publish does LPUSH and Receive
// does BRPOP, giving FIFO order across processes.
type Redis struct {
	client      redis.UniversalClient
	key         string
	pollTimeout time.Duration
	closed      atomic.Bool
}

// RedisOption configures a Redis queue.
type RedisOption func(*Redis)

// WithPollTimeout overrides DefaultPollTimeout.
func WithPollTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.pollTimeout = d
	}
}

// NewRedis returns a queue stored in the list "queue:<kind>".
func NewRedis(client redis.UniversalClient, kind Kind, opts ...RedisOption) *Redis {
	r := &Redis{
		client:      client,
		key:         "queue:" + string(kind),
		pollTimeout: DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ Queue = (*Redis)(nil)

func (r *Redis) Publish(ctx context.Context, msg []byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.client.LPush(ctx, r.key, msg).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Receive(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.closed.Load() {
			return r.drain(ctx)
		}

		res, err := r.client.BRPop(ctx, r.pollTimeout, r.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("receive %s: %w", r.key, err)
		}
		// BRPOP replies [key, value].
		return []byte(res[1]), nil
	}
}

// drain pops without blocking once the queue is closed locally.
func (r *Redis) drain(ctx context.Context) ([]byte, error) {
	msg, err := r.client.RPop(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, fmt.Errorf("receive %s: %w", r.key, err)
	}
	return msg, nil
}

func (r *Redis) Len(ctx context.Context) (int64, error) {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("len %s: %w", r.key, err)
	}
	return n, nil
}

// Close stops this handle from publishing. The underlying list and the
// shared client are left alone.
func (r *Redis) Close() error {
	r.closed.Store(true)
	return nil
}
