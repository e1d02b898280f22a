// Package execartifact is the ephemeral cache for tool-produced files
// awaiting delivery. Artifacts live only in cache,
// indexed per thread for O(1) enumeration, and are removed on delivery or
// TTL expiry.
package execartifact

import (
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tollgate/internal/cache"
)

// Metadata describes an artifact without its bytes.
type Metadata struct {
	Filename string
	Mime     string
	Context  string // tool-supplied description, surfaced in the file manifest
	Preview  []byte
}

// Artifact is a temporary tool-produced file keyed by TempID.
type Artifact struct {
	TempID   string
	ThreadID string
	Bytes    []byte
	Metadata Metadata
	Created  time.Time
}

// Store manages ExecArtifacts in the cache.
type Store struct {
	breaker *cache.Breaker
	ttl     time.Duration
}

func New(breaker *cache.Breaker, ttl time.Duration) *Store {
	return &Store{breaker: breaker, ttl: ttl}
}

// Create stores a new artifact and adds it to its thread's pending index in
// one logical operation (cache-level atomicity: set + set-add both happen
// here before Create returns).
func (s *Store) Create(threadID string, data []byte, meta Metadata) *Artifact {
	a := &Artifact{
		TempID:   uuid.NewString(),
		ThreadID: threadID,
		Bytes:    data,
		Metadata: meta,
		Created:  time.Now(),
	}
	s.breaker.Set(cache.ExecArtifactKey(a.TempID), a, s.ttl)
	s.breaker.SAdd(cache.ExecThreadIndexKey(threadID), s.ttl, a.TempID)
	return a
}

// Get returns the artifact for tempID, or false if absent/expired.
func (s *Store) Get(tempID string) (*Artifact, bool) {
	v, ok := s.breaker.Get(cache.ExecArtifactKey(tempID))
	if !ok {
		return nil, false
	}
	a, ok := v.(*Artifact)
	return a, ok
}

// Deliver removes an artifact from cache and its thread's pending index,
// returning it. Call on successful deliver_file dispatch.
func (s *Store) Deliver(threadID, tempID string) (*Artifact, bool) {
	a, ok := s.Get(tempID)
	if !ok {
		return nil, false
	}
	s.breaker.Delete(cache.ExecArtifactKey(tempID))
	s.breaker.SRem(cache.ExecThreadIndexKey(threadID), tempID)
	return a, true
}

// Pending lists the temp ids awaiting delivery for a thread — used by the
// context builder's file manifest.
func (s *Store) Pending(threadID string) []string {
	return s.breaker.SMembers(cache.ExecThreadIndexKey(threadID))
}

// SweepExpired drops index entries whose backing artifact has expired from
// cache (the TTL already removed the bytes; this just keeps the per-thread
// set from accumulating stale temp ids). Call from a periodic ticker.
func (s *Store) SweepExpired(threadID string) {
	for _, tempID := range s.Pending(threadID) {
		if _, ok := s.breaker.Get(cache.ExecArtifactKey(tempID)); !ok {
			s.breaker.SRem(cache.ExecThreadIndexKey(threadID), tempID)
		}
	}
}
