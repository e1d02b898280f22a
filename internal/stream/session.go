package stream

import (
	"sync"
	"time"
)

// Session binds one in-flight generation's Draft to its thread, so the
// batcher/orchestrator can look up "is there a draft to interrupt right
// now" without threading a Draft reference through every call site.
type Session struct {
	ThreadID string
	Draft    *Draft
}

// Manager tracks the single active Session per thread.
type Manager struct {
	mu   sync.Mutex
	byID map[string]*Session
}

func NewManager() *Manager {
	return &Manager{byID: make(map[string]*Session)}
}

// Start registers a new session for threadID, replacing whatever was there
// before without touching the previous session's Draft (the caller is expected to have already
// cancelled the prior generation via gentrack before calling this).
func (m *Manager) Start(threadID string, sink Sink, editPeriod time.Duration) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Session{ThreadID: threadID, Draft: NewDraft(sink, editPeriod)}
	m.byID[threadID] = s
	return s
}

// Get returns the active session for threadID, if any.
func (m *Manager) Get(threadID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[threadID]
	return s, ok
}

// End removes the session for threadID if it is still s (guards against a
// newer session being clobbered by a stale finish).
func (m *Manager) End(threadID string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byID[threadID]; ok && cur == s {
		delete(m.byID, threadID)
	}
}
