// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxy

import (
	"context"
	"sync"
	"time"
)

// Cache TTLs. Rules change more often than configuration, so they refresh
// faster; both propagate control-plane mutations by expiry only.
const (
	rulesCacheTTL  = 60 * time.Second
	configCacheTTL = 300 * time.Second
)

type fetchFunc[T any] func(ctx context.Context, userID string) (T, error)

// ttlCache is a per-user read-through cache with single-flight population:
// concurrent misses for the same key issue at most one upstream fetch. On
// fetch failure the last-known value is served when one exists; freshness is
// deliberately traded for availability.
type ttlCache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	fetch   fetchFunc[T]
	entries map[string]*cacheEntry[T]
}

type cacheEntry[T any] struct {
	value    T
	hasValue bool
	expires  time.Time
	inflight chan struct{} // non-nil while a fetch is running
}

func newTTLCache[T any](ttl time.Duration, fetch fetchFunc[T]) *ttlCache[T] {
	return &ttlCache[T]{
		ttl:     ttl,
		fetch:   fetch,
		entries: make(map[string]*cacheEntry[T]),
	}
}

// Get returns the cached value for userID, fetching on miss or expiry.
func (c *ttlCache[T]) Get(ctx context.Context, userID string) (T, error) {
	for {
		c.mu.Lock()
		entry, ok := c.entries[userID]
		if !ok {
			entry = &cacheEntry[T]{}
			c.entries[userID] = entry
		}

		if entry.hasValue && time.Now().Before(entry.expires) {
			value := entry.value
			c.mu.Unlock()
			return value, nil
		}

		if entry.inflight != nil {
			wait := entry.inflight
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			}
		}

		done := make(chan struct{})
		entry.inflight = done
		c.mu.Unlock()

		value, err := c.fetch(ctx, userID)

		c.mu.Lock()
		entry.inflight = nil
		if err == nil {
			entry.value = value
			entry.hasValue = true
			entry.expires = time.Now().Add(c.ttl)
		}
		stale, hasStale := entry.value, entry.hasValue
		c.mu.Unlock()
		close(done)

		if err != nil {
			if hasStale {
				return stale, nil
			}
			var zero T
			return zero, err
		}
		return value, nil
	}
}

// Invalidate drops the entry for userID.
func (c *ttlCache[T]) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}
