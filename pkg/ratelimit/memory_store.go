package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucketState struct {
	tokens     float64
	lastRefill time.Time
}

// MemoryStore keeps bucket state in process memory. Suitable for a single
// dispatcher; rate limiting across processes needs a shared backend.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucketState
}

// NewMemoryStore creates a new in-memory bucket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucketState),
	}
}

// ConsumeTokens implements Store.
func (ms *MemoryStore) ConsumeTokens(ctx context.Context, key string, n int, config Config) (int, time.Time, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	state, exists := ms.buckets[key]
	if !exists {
		state = &bucketState{
			tokens:     float64(config.Capacity),
			lastRefill: now,
		}
		ms.buckets[key] = state
	}

	// Continuous refill proportional to elapsed time.
	elapsed := now.Sub(state.lastRefill)
	if elapsed > 0 {
		refill := float64(config.RefillRate) * (elapsed.Seconds() / config.RefillInterval.Seconds())
		state.tokens = min(state.tokens+refill, float64(config.Capacity))
		state.lastRefill = now
	}

	resetAt := now.Add(config.RefillInterval)

	if state.tokens < float64(n) {
		// Denied: report a negative remainder, do not consume.
		return int(state.tokens) - n, resetAt, nil
	}

	state.tokens -= float64(n)
	return int(state.tokens), resetAt, nil
}

// ReturnTokens implements Store.
func (ms *MemoryStore) ReturnTokens(ctx context.Context, key string, n int, config Config) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	state, exists := ms.buckets[key]
	if !exists {
		// Untouched buckets are already full.
		return nil
	}

	state.tokens = min(state.tokens+float64(n), float64(config.Capacity))
	return nil
}

// Reset implements Store.
func (ms *MemoryStore) Reset(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.buckets, key)
	return nil
}
