// Package cache provides the keyed response cache used by the search, chat,
// and research pipelines, plus the key builders their callers share. A Cache
// is best-effort: lookups may miss at any time and writes may be dropped, so
// callers must never depend on it for correctness.
package cache

import "time"

// Cache is the minimal surface the pipelines use. Implementations must be
// safe for concurrent use.
type Cache interface {
	// Get returns the cached value for key, if present and fresh.
	Get(key string) (string, bool)
	// Set stores value under key for ttl. Writes may be dropped silently.
	Set(key, value string, ttl time.Duration)
}

// Noop never hits and drops every write. It stands in when no cache is
// configured or the configured one is unavailable.
type Noop struct{}

func (Noop) Get(string) (string, bool)         { return "", false }
func (Noop) Set(string, string, time.Duration) {}
