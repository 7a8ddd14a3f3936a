// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"axonflow/gateway/shared/logger"
)

// RateLimiter enforces a process-wide, IP-keyed sliding window. With Redis
// configured the window is shared across instances; otherwise, and whenever
// Redis misbehaves, an in-memory window takes over so the gateway fails
// open rather than unavailable.
type RateLimiter struct {
	client   *redis.Client
	window   time.Duration
	max      int
	log      *logger.Logger
	fallback *memoryWindow
}

// NewRateLimiter builds a limiter. redisURL may be empty for pure in-memory
// operation; an unreachable Redis at startup is logged and ignored.
func NewRateLimiter(redisURL string, windowMs, maxRequests int, log *logger.Logger) *RateLimiter {
	rl := &RateLimiter{
		window:   time.Duration(windowMs) * time.Millisecond,
		max:      maxRequests,
		log:      log,
		fallback: newMemoryWindow(time.Duration(windowMs)*time.Millisecond, maxRequests),
	}

	if redisURL == "" {
		return rl
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		if log != nil {
			log.Warn("", "", "invalid REDIS_URL, rate limiting falls back to in-memory", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return rl
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if log != nil {
			log.Warn("", "", "redis unreachable, rate limiting falls back to in-memory", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return rl
	}

	rl.client = client
	return rl
}

// Allow reports whether a request from ip fits in the window.
func (rl *RateLimiter) Allow(ctx context.Context, ip string) bool {
	if rl.max <= 0 {
		return true
	}
	if rl.client == nil {
		return rl.fallback.allow(ip)
	}

	now := time.Now()
	key := "ratelimit:ip:" + ip

	pipe := rl.client.Pipeline()
	minScore := now.Add(-rl.window).UnixNano()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*rl.window)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		// Fail open on Redis trouble; counting is advisory, availability is not.
		if rl.log != nil {
			rl.log.Warn("", "", "redis rate limit check failed, failing open", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return true
	}

	count := cmds[1].(*redis.IntCmd).Val()
	return count < int64(rl.max)
}

// memoryWindow is a fixed-window fallback counter.
type memoryWindow struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]*windowEntry
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

func newMemoryWindow(window time.Duration, max int) *memoryWindow {
	return &memoryWindow{
		window:  window,
		max:     max,
		entries: make(map[string]*windowEntry),
	}
}

func (m *memoryWindow) allow(ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.entries[ip]
	if !ok || now.After(entry.resetAt) {
		m.entries[ip] = &windowEntry{count: 1, resetAt: now.Add(m.window)}
		return true
	}
	if entry.count >= m.max {
		return false
	}
	entry.count++
	return true
}

// clientIP extracts the caller's address, honoring the first entry of
// X-Forwarded-For when a load balancer fronts the gateway.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
