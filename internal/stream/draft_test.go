package stream

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	sent     []string
	edits    map[string]string
	nextID   int
	sendErr  error
}

func newFakeSink() *fakeSink {
	return &fakeSink{edits: make(map[string]string)}
}

func (f *fakeSink) Send(text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	id := strings.Repeat("m", f.nextID)
	f.sent = append(f.sent, text)
	f.edits[id] = text
	return id, nil
}

func (f *fakeSink) Edit(messageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[messageID] = text
	return nil
}

func (f *fakeSink) latest(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edits[id]
}

func TestAppendFlushesFirstContentImmediately(t *testing.T) {
	sink := newFakeSink()
	d := NewDraft(sink, time.Hour)

	require.NoError(t, d.Append("hello"))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.sent, 1)
	assert.Equal(t, "hello", sink.sent[0])
}

func TestAppendThrottlesSubsequentEdits(t *testing.T) {
	sink := newFakeSink()
	d := NewDraft(sink, time.Hour)

	require.NoError(t, d.Append("hello"))
	require.NoError(t, d.Append(" world"))

	sink.mu.Lock()
	sentCount := len(sink.sent)
	sink.mu.Unlock()
	assert.Equal(t, 1, sentCount, "second append within EditPeriod must not flush immediately")
}

func TestFinalizeFlushesPendingContent(t *testing.T) {
	sink := newFakeSink()
	d := NewDraft(sink, time.Hour)

	require.NoError(t, d.Append("hello"))
	require.NoError(t, d.Append(" world"))
	require.NoError(t, d.Finalize())

	require.Len(t, d.messageIDs, 1)
	assert.Equal(t, "hello world", sink.latest(d.messageIDs[0]))
}

func TestFinalizeIsIdempotent(t *testing.T) {
	sink := newFakeSink()
	d := NewDraft(sink, time.Hour)
	require.NoError(t, d.Append("hi"))
	require.NoError(t, d.Finalize())
	assert.NoError(t, d.Finalize())
}

func TestAppendAfterDoneIsNoop(t *testing.T) {
	sink := newFakeSink()
	d := NewDraft(sink, time.Hour)
	require.NoError(t, d.Append("hi"))
	require.NoError(t, d.Finalize())

	require.NoError(t, d.Append("more"))
	assert.Equal(t, "hi", sink.latest(d.messageIDs[0]))
}

func TestInterruptAppendsSuffix(t *testing.T) {
	sink := newFakeSink()
	d := NewDraft(sink, time.Hour)
	require.NoError(t, d.Append("partial answer"))
	require.NoError(t, d.Interrupt())

	assert.Contains(t, sink.latest(d.messageIDs[0]), "[interrupted]")
}

func TestAppendSplitsAtMaxMessageLength(t *testing.T) {
	sink := newFakeSink()
	d := NewDraft(sink, time.Hour)

	big := strings.Repeat("a", maxMessageLength+500)
	require.NoError(t, d.Append(big))

	require.Len(t, d.messageIDs, 2, "overflow content must start a second message")
}

func TestAppendEmptyTextIsNoop(t *testing.T) {
	sink := newFakeSink()
	d := NewDraft(sink, time.Hour)
	require.NoError(t, d.Append(""))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.sent)
}

func TestScheduledFlushEditsAfterEditPeriod(t *testing.T) {
	sink := newFakeSink()
	d := NewDraft(sink, 10*time.Millisecond)

	require.NoError(t, d.Append("hello"))
	require.NoError(t, d.Append(" world"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "hello world", sink.latest(d.messageIDs[0]))
}

func TestAppendPropagatesSendError(t *testing.T) {
	sink := newFakeSink()
	sink.sendErr = errors.New("network down")
	d := NewDraft(sink, time.Hour)

	err := d.Append("hello")
	assert.Error(t, err)
}
