// Package cache provides the shared key-value store used for access-token
// caching, rate-limit counters, and login lock-out state.
//
// The primary backend is Redis so multiple gateway processes observe the
// same counters. When REDIS_URL is unset the process-local backend is used
// instead; operators accept that multi-process deployments then overshoot
// limits by a factor equal to the process count.
package cache

import (
	"context"
	"sync"
	"time"
)

// KV is the minimal contract the gateway needs from the shared store.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes keys; missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
	// Incr atomically increments a counter. The TTL is applied only when
	// the increment creates the key.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type memoryEntry struct {
	value     string
	counter   int64
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is the in-process fallback backend.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) get(key string) *memoryEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(key)
	if e == nil {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(key)
	if e == nil {
		e = &memoryEntry{}
		if ttl > 0 {
			e.expiresAt = m.now().Add(ttl)
		}
		m.entries[key] = e
	}
	e.counter++
	return e.counter, nil
}
