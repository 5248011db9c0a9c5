package ratelimit

import (
	"context"
	"sync"
	"time"
)

// CounterStore is the atomic increment-and-read primitive the limiter is
// built on. Incr must return the post-increment count; concurrent calls for
// the same key must observe a linearizable sequence 1..N with no gaps.
type CounterStore interface {
	// Incr increments key and returns the new count. A key incremented for
	// the first time gets the given TTL; the TTL is never extended by later
	// increments within the window.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// MemoryCounters is an in-process CounterStore. Increments are serialized
// by a mutex, which is an acceptable linearizability substitute only in a
// single-process deployment; multi-node installs use the Redis store.
type MemoryCounters struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	now     func() time.Time
}

type memoryBucket struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryCounters returns an empty in-process counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{
		buckets: make(map[string]*memoryBucket),
		now:     time.Now,
	}
}

// Incr implements CounterStore.
func (m *MemoryCounters) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok || !now.Before(b.expiresAt) {
		b = &memoryBucket{expiresAt: now.Add(ttl)}
		m.buckets[key] = b
	}
	b.count++

	// Opportunistic cleanup so abandoned windows don't accumulate.
	if len(m.buckets) > 4096 {
		for k, v := range m.buckets {
			if !now.Before(v.expiresAt) {
				delete(m.buckets, k)
			}
		}
	}
	return b.count, nil
}

// Ping implements CounterStore. The in-process store is always reachable.
func (m *MemoryCounters) Ping(context.Context) error {
	return nil
}
