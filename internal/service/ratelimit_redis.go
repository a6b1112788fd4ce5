package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter shared by every server instance
// pointing at the same Redis. Each key may make limit calls per window.
//
// Redis errors fail open: the request is allowed and a warning is logged.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewRedisLimiter creates a RedisLimiter. Keys are namespaced under prefix.
func NewRedisLimiter(client *redis.Client, prefix string, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// Allow counts one call for key. The counter and its expiry are written in
// one MULTI/EXEC, and EXPIRE NX re-arms a key that somehow lost its TTL, so
// a counter can never outlive its window. EXPIRE NX needs Redis 7 or newer.
func (r *RedisLimiter) Allow(ctx context.Context, key string) bool {
	k := r.prefix + key

	var attempts *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		attempts = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, r.window)
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "rate limiter unavailable, allowing request", "error", err)
		return true
	}
	return attempts.Val() <= r.limit
}

// NewRedisClient parses a redis:// URL and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
