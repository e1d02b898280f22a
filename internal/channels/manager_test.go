package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	name      string
	startErr  error
	stopErr   error
	started   bool
	stopped   bool
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) Start(ctx context.Context) error {
	f.started = true
	return f.startErr
}
func (f *fakeChannel) Stop(ctx context.Context) error {
	f.stopped = true
	return f.stopErr
}

func TestManagerRegisterAndGet(t *testing.T) {
	m := NewManager()
	ch := &fakeChannel{name: "telegram"}
	m.Register(ch)

	got, ok := m.Get("telegram")
	require.True(t, ok)
	assert.Same(t, ch, got)

	_, ok = m.Get("discord")
	assert.False(t, ok)
}

func TestManagerStartAllStartsEveryChannel(t *testing.T) {
	m := NewManager()
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b"}
	m.Register(a)
	m.Register(b)

	err := m.StartAll(context.Background())
	require.NoError(t, err)
	assert.True(t, a.started)
	assert.True(t, b.started)
}

func TestManagerStartAllReturnsFirstErrorButStartsRemaining(t *testing.T) {
	m := NewManager()
	failing := &fakeChannel{name: "failing", startErr: errors.New("boom")}
	ok := &fakeChannel{name: "ok"}
	m.Register(failing)
	m.Register(ok)

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.True(t, failing.started)
	assert.True(t, ok.started, "a failing channel must not block the others from starting")
}

func TestManagerStopAllStopsEveryChannel(t *testing.T) {
	m := NewManager()
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b", stopErr: errors.New("cleanup failed")}
	m.Register(a)
	m.Register(b)

	m.StopAll(context.Background())
	assert.True(t, a.stopped)
	assert.True(t, b.stopped)
}
