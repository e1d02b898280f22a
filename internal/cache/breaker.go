package cache

import (
	"sync"
	"time"
)

// Breaker wraps Cache with a circuit breaker: after K consecutive failures
// it opens for W; while open, Get always reports a miss and Set/SAdd/SRem
// are best-effort no-ops, so upper layers degrade to direct durable-store
// access without ever surfacing a cache error to the user.
type Breaker struct {
	cache *Cache

	mu          sync.Mutex
	failures    int
	openUntil   time.Time
	maxFailures int
	openFor     time.Duration
}

func NewBreaker(c *Cache, maxFailures int, openFor time.Duration) *Breaker {
	return &Breaker{cache: c, maxFailures: maxFailures, openFor: openFor}
}

func (b *Breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if time.Now().After(b.openUntil) {
		// Open period over: close again with the failure count reset, so it
		// takes a fresh run of failures to reopen it.
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.maxFailures {
		b.openUntil = time.Now().Add(b.openFor)
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Get reports a miss while the breaker is open. The in-process Cache never
// itself errors, so "failure" here models an eventual out-of-process cache
// (the TTL map is a drop-in stand-in); Report lets callers feed in real
// transport failures from such a backend.
func (b *Breaker) Get(key string) (any, bool) {
	if b.isOpen() {
		return nil, false
	}
	v, ok := b.cache.Get(key)
	b.recordSuccess()
	return v, ok
}

func (b *Breaker) Set(key string, value any, ttl time.Duration) {
	if b.isOpen() {
		return
	}
	b.cache.Set(key, value, ttl)
}

func (b *Breaker) Delete(key string) {
	if b.isOpen() {
		return
	}
	b.cache.Delete(key)
}

func (b *Breaker) SAdd(key string, ttl time.Duration, members ...string) {
	if b.isOpen() {
		return
	}
	b.cache.SAdd(key, ttl, members...)
}

func (b *Breaker) SRem(key, member string) {
	if b.isOpen() {
		return
	}
	b.cache.SRem(key, member)
}

func (b *Breaker) SMembers(key string) []string {
	if b.isOpen() {
		return nil
	}
	return b.cache.SMembers(key)
}

// Report lets a caller record an out-of-process cache transport failure
// (e.g. a future Redis backend) that should count toward opening the breaker.
func (b *Breaker) Report(err error) {
	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
}

// IsOpen reports whether the breaker is currently open (for health/doctor output).
func (b *Breaker) IsOpen() bool { return b.isOpen() }
