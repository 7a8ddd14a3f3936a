// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCache_SingleFlight(t *testing.T) {
	var fetches int32
	cache := newTTLCache(time.Minute, func(ctx context.Context, userID string) (string, error) {
		atomic.AddInt32(&fetches, 1)
		time.Sleep(20 * time.Millisecond) // hold the flight open so all goroutines pile up
		return "value-" + userID, nil
	})

	const concurrent = 10
	var wg sync.WaitGroup
	results := make([]string, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, err := cache.Get(context.Background(), "user-1")
			require.NoError(t, err)
			results[i] = value
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
	for _, value := range results {
		assert.Equal(t, "value-user-1", value)
	}
}

func TestTTLCache_PerUserEntries(t *testing.T) {
	cache := newTTLCache(time.Minute, func(ctx context.Context, userID string) (string, error) {
		return "value-" + userID, nil
	})

	a, err := cache.Get(context.Background(), "user-a")
	require.NoError(t, err)
	b, err := cache.Get(context.Background(), "user-b")
	require.NoError(t, err)

	assert.Equal(t, "value-user-a", a)
	assert.Equal(t, "value-user-b", b)
}

func TestTTLCache_ExpiryRefetches(t *testing.T) {
	var fetches int32
	cache := newTTLCache(10*time.Millisecond, func(ctx context.Context, userID string) (string, error) {
		atomic.AddInt32(&fetches, 1)
		return "v", nil
	})

	_, err := cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches), "second read inside the TTL must hit the cache")

	time.Sleep(15 * time.Millisecond)
	_, err = cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetches))
}

func TestTTLCache_StaleOnError(t *testing.T) {
	var fail atomic.Bool
	cache := newTTLCache(10*time.Millisecond, func(ctx context.Context, userID string) (string, error) {
		if fail.Load() {
			return "", errors.New("control plane down")
		}
		return "fresh", nil
	})

	value, err := cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", value)

	fail.Store(true)
	time.Sleep(15 * time.Millisecond)

	value, err = cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", value, "expired value is served while the fetch fails")
}

func TestTTLCache_ErrorWithoutStaleValue(t *testing.T) {
	cache := newTTLCache(time.Minute, func(ctx context.Context, userID string) (string, error) {
		return "", errors.New("control plane down")
	})

	_, err := cache.Get(context.Background(), "user-1")
	require.Error(t, err)
}

func TestTTLCache_Invalidate(t *testing.T) {
	var fetches int32
	cache := newTTLCache(time.Minute, func(ctx context.Context, userID string) (string, error) {
		atomic.AddInt32(&fetches, 1)
		return "v", nil
	})

	_, err := cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	cache.Invalidate("user-1")
	_, err = cache.Get(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&fetches))
}

func TestTTLCache_WaiterHonorsContext(t *testing.T) {
	release := make(chan struct{})
	cache := newTTLCache(time.Minute, func(ctx context.Context, userID string) (string, error) {
		<-release
		return "v", nil
	})

	go func() {
		_, _ = cache.Get(context.Background(), "user-1")
	}()
	time.Sleep(10 * time.Millisecond) // let the first fetch start

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := cache.Get(ctx, "user-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
