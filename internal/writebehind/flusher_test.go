package writebehind

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/tollgate/internal/store"
)

type fakeStore struct {
	store.Store
	messages      [][]store.Message
	userFiles     []*store.UserFile
	appendErr     error
	createFileErr error
}

func (f *fakeStore) AppendMessages(_ context.Context, msgs []store.Message) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.messages = append(f.messages, msgs)
	return nil
}

func (f *fakeStore) CreateUserFile(_ context.Context, uf *store.UserFile) error {
	if f.createFileErr != nil {
		return f.createFileErr
	}
	f.userFiles = append(f.userFiles, uf)
	return nil
}

func TestFlushOnceGroupsByKind(t *testing.T) {
	q := New(nil, 3)
	q.Push(KindMessage, store.Message{ExternalMsgID: "m1"})
	q.Push(KindMessage, store.Message{ExternalMsgID: "m2"})
	q.Push(KindUserFile, &store.UserFile{ID: "f1"})

	fs := &fakeStore{}
	flusher := NewFlusher(q, fs, time.Second, 10)
	flusher.flushOnce(context.Background())

	require.Len(t, fs.messages, 1)
	assert.Len(t, fs.messages[0], 2)
	require.Len(t, fs.userFiles, 1)
	assert.Equal(t, "f1", fs.userFiles[0].ID)
	assert.Equal(t, 0, q.Len())
}

func TestFlushOnceRequeuesFailedMessages(t *testing.T) {
	q := New(nil, 3)
	q.Push(KindMessage, store.Message{ExternalMsgID: "m1"})

	fs := &fakeStore{appendErr: errors.New("db down")}
	flusher := NewFlusher(q, fs, time.Second, 10)
	flusher.flushOnce(context.Background())

	assert.Equal(t, 1, q.Len(), "failed message should be requeued, not lost")
}

func TestFlushOnceDeadLettersAfterMaxRetries(t *testing.T) {
	q := New(nil, 0)
	q.Push(KindMessage, store.Message{ExternalMsgID: "m1"})

	fs := &fakeStore{appendErr: errors.New("db down")}
	flusher := NewFlusher(q, fs, time.Second, 10)
	flusher.flushOnce(context.Background())

	assert.Equal(t, 0, q.Len())
	assert.Len(t, q.DeadLetters(), 1)
}

func TestDrainAllEmptiesQueueAcrossMultipleBatches(t *testing.T) {
	q := New(nil, 3)
	for i := 0; i < 5; i++ {
		q.Push(KindMessage, store.Message{ExternalMsgID: "m"})
	}

	fs := &fakeStore{}
	flusher := NewFlusher(q, fs, time.Second, 2)
	flusher.drainAll(context.Background())

	assert.Equal(t, 0, q.Len())
}

func TestRunFlushesOnIntervalAndDrainsOnCancel(t *testing.T) {
	q := New(nil, 3)
	q.Push(KindMessage, store.Message{ExternalMsgID: "m1"})

	fs := &fakeStore{}
	flusher := NewFlusher(q, fs, 5*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		flusher.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.Equal(t, 0, q.Len())
	assert.NotEmpty(t, fs.messages)
}
