// Package cache is the gateway's keyed TTL cache, sitting in front of the
// durable store: a lock-protected map of entries, each with its own
// expiry, checked before any durable-store read.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value   any
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Cache is a process-local, lock-protected TTL map. It is wrapped by
// Breaker for callers that need circuit-breaking degrade-to-durable
// behavior (see breaker.go).
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func New() *Cache {
	c := &Cache{entries: make(map[string]entry)}
	return c
}

// Get returns the cached value and whether it was present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL (zero TTL never expires).
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expires: exp}
	c.mu.Unlock()
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// SAdd adds members to a cached string set stored under key, creating it
// if absent; every call resets the set's expiry to the given TTL (matches
// the exec:thread:{tid} index's "set-add in the same transaction script"
// requirement from an in-process map: both operations hold the lock).
func (c *Cache) SAdd(key string, ttl time.Duration, members ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	set, _ := e.value.(map[string]struct{})
	if !ok || e.expired(time.Now()) || set == nil {
		set = make(map[string]struct{})
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.entries[key] = entry{value: set, expires: exp}
}

// SRem removes a member from a cached string set.
func (c *Cache) SRem(key, member string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	set, _ := e.value.(map[string]struct{})
	if set == nil {
		return
	}
	delete(set, member)
	c.entries[key] = e
}

// SMembers returns the members of a cached string set.
func (c *Cache) SMembers(key string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil
	}
	set, _ := e.value.(map[string]struct{})
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out
}

// Sweep removes expired entries; call periodically from a background ticker.
func (c *Cache) Sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}
