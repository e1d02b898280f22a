package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager owns the lifecycle of every registered frontend adapter. The
// write-behind flusher, exec-artifact sweep, and breaker all run their own
// loops independently; Manager only start/stops Channel implementations.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts every registered channel, returning the first error but
// still attempting the rest so one bad adapter doesn't block the others.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var firstErr error
	for name, ch := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("channel failed to start", "channel", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("start %s: %w", name, err)
			}
		}
	}
	return firstErr
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channel failed to stop cleanly", "channel", name, "error", err)
		}
	}
}
