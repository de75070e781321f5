package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/ports"
)

var _ ports.RateLimiter = (*MemoryLimiter)(nil)

// MemoryLimiter is the process-local counterpart of RedisLimiter, used when no
// Redis is configured. Windows are per replica, so a scaled-out deployment
// should prefer the shared limiter.
type MemoryLimiter struct {
	limit  int64
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[uuid.UUID]*vendorWindow
}

type vendorWindow struct {
	index int64
	count int64
}

// NewMemoryLimiter allows up to limit attempts per vendor per window.
func NewMemoryLimiter(limit int64, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Second
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: map[uuid.UUID]*vendorWindow{},
	}
}

// WithClock overrides the time source for deterministic testing.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Allow consumes one slot in the vendor's current window.
func (l *MemoryLimiter) Allow(_ context.Context, vendorID uuid.UUID) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	index := now.UnixNano() / int64(l.window)
	current := l.windows[vendorID]
	if current == nil || current.index != index {
		current = &vendorWindow{index: index}
		l.windows[vendorID] = current
	}
	current.count++
	if current.count > l.limit {
		windowEnd := time.Unix(0, (index+1)*int64(l.window))
		return false, windowEnd.Sub(now), nil
	}
	return true, 0, nil
}
