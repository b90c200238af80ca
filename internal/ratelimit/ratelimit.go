// Package ratelimit provides a Redis-backed fixed-window request limiter.
//
// Counters live in Redis so every instance of the API shares one budget per
// client.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

var ErrInvalidConfig = errors.New("rate limit must be positive with a positive window")

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is the time until the current window resets.
	RetryAfter time.Duration
}

// Limiter allows at most limit hits per key in each window.
type Limiter struct {
	client redis.Cmdable
	scope  string
	limit  int
	window time.Duration
}

// New creates a limiter. scope namespaces its keys so several limiters can
// share one Redis.
func New(client redis.Cmdable, scope string, limit int, window time.Duration) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, ErrInvalidConfig
	}
	return &Limiter{client: client, scope: scope, limit: limit, window: window}, nil
}

// Scope returns the limiter's key namespace.
func (l *Limiter) Scope() string {
	return l.scope
}

// Allow records a hit for key and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := keyPrefix + l.scope + ":" + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("redis incr: %w", err)
	}

	count := int(incr.Val())
	retryAfter := ttl.Val()

	// A key without an expiry is a new window (or one whose EXPIRE was lost).
	if retryAfter < 0 {
		if err := l.client.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis expire: %w", err)
		}
		retryAfter = l.window
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:    count <= l.limit,
		Limit:      l.limit,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}, nil
}
