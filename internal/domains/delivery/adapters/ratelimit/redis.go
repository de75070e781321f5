package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/ports"
)

var _ ports.RateLimiter = (*RedisLimiter)(nil)

// RedisLimiter is a fixed-window per-vendor limiter shared across worker
// replicas. A denied attempt is rescheduled for the remainder of the window,
// never counted as a delivery failure.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// NewRedisLimiter allows up to limit attempts per vendor per window.
func NewRedisLimiter(client *redis.Client, limit int64, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Second
	}
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "delivery:ratelimit",
	}
}

// Allow consumes one slot in the vendor's current window. INCR plus a
// first-writer EXPIRE keeps the whole check a two-command round trip.
func (l *RedisLimiter) Allow(ctx context.Context, vendorID uuid.UUID) (bool, time.Duration, error) {
	key := fmt.Sprintf("%s:%s:%d", l.prefix, vendorID, time.Now().UnixNano()/int64(l.window))

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	if count > l.limit {
		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}
