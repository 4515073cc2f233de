// Package cache provides the storefront's in-memory TTL cache for read-heavy
// backend lookups. Entries expire lazily: a stale entry is only removed when
// its key is read again or when it is cleared explicitly.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Entry is a cached value with the metadata needed to judge freshness.
type Entry struct {
	Value    any
	StoredAt time.Time
	TTL      time.Duration
}

// Valid reports whether the entry is still fresh at now.
func (e Entry) Valid(now time.Time) bool {
	return now.Sub(e.StoredAt) <= e.TTL
}

// TTL is a string-keyed cache with per-entry time-to-live. It is safe for
// concurrent use.
type TTL struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

type Option func(*TTL)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *TTL) { c.now = now }
}

func New(opts ...Option) *TTL {
	c := &TTL{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Set stores value under key for ttl, replacing any previous entry.
func (c *TTL) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = Entry{Value: value, StoredAt: c.now(), TTL: ttl}
	c.mu.Unlock()
}

// Get returns the value for key. A stale entry is deleted and reported absent.
func (c *TTL) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.Valid(c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	return e.Value, true
}

// Delete removes key. Missing keys are ignored.
func (c *TTL) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear empties the cache.
func (c *TTL) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}

// ClearPattern deletes every key containing pattern and returns how many were
// removed. An empty pattern matches every key.
func (c *TTL) ClearPattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if strings.Contains(k, pattern) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len counts stored entries, including stale ones not yet read.
func (c *TTL) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetAs is Get with a type assertion; a value of another type is a miss.
func GetAs[T any](c *TTL, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
