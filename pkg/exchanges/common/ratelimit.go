package common

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// RateLimiter tracks the request weight a venue reports in its response headers.
type RateLimiter struct {
	name          string
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewRateLimiter creates a limiter for limit units per resetInterval.
func NewRateLimiter(name string, limit int, resetInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		name:          name,
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// UpdateFromHeader records the used weight from a response header value.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}
	rl.Observe(weight)
}

// Observe records the used weight directly.
func (rl *RateLimiter) Observe(weight int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	if percentage >= 95 {
		slog.Warn("rate limit critical", "venue", rl.name, "used", rl.usedWeight, "limit", rl.limit, "pct", percentage)
	} else if percentage >= 80 {
		slog.Info("rate limit warning", "venue", rl.name, "used", rl.usedWeight, "limit", rl.limit, "pct", percentage)
	}
}

// GetUsage returns current usage information.
func (rl *RateLimiter) GetUsage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay returns true if we should delay the next request.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.GetUsage()
	return pct >= 90
}

// Wait blocks until the current window resets when usage is near the limit.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if !rl.ShouldDelay() {
		return nil
	}
	rl.mu.RLock()
	wait := rl.resetInterval - time.Since(rl.lastReset)
	rl.mu.RUnlock()
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
