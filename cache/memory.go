package cache

import (
	"sync"
	"time"
)

const defaultMaxEntries = 4096

// Memory is an in-process TTL cache. Expired entries are dropped lazily on
// read and swept when the cache is full; past the size cap an arbitrary
// entry is evicted, which is acceptable for a best-effort cache.
//
// Safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]memEntry
	maxEntries int
}

type memEntry struct {
	value   string
	expires time.Time
}

// NewMemory returns a cache holding at most maxEntries values; pass 0 for
// the default cap.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Memory{
		entries:    make(map[string]memEntry),
		maxEntries: maxEntries,
	}
}

// Get returns the fresh value for key.
func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		m.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, ok := m.entries[key]; ok && time.Now().After(cur.expires) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return "", false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl drops the write.
func (m *Memory) Set(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictLocked()
	}
	m.entries[key] = memEntry{value: value, expires: time.Now().Add(ttl)}
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// evictLocked clears expired entries; if nothing expired, it removes one
// arbitrary entry to make room.
func (m *Memory) evictLocked() {
	now := time.Now()
	dropped := false
	for k, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, k)
			dropped = true
		}
	}
	if dropped {
		return
	}
	for k := range m.entries {
		delete(m.entries, k)
		return
	}
}
