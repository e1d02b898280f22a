package writebehind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAndPopBatchIsFIFO(t *testing.T) {
	q := New(nil, 3)
	q.Push(KindMessage, "a")
	q.Push(KindMessage, "b")
	q.Push(KindMessage, "c")

	batch := q.PopBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Payload)
	assert.Equal(t, "b", batch[1].Payload)
	assert.Equal(t, 1, q.Len())
}

func TestPopBatchCapsAtQueueLength(t *testing.T) {
	q := New(nil, 3)
	q.Push(KindMessage, "a")

	batch := q.PopBatch(10)
	assert.Len(t, batch, 1)
	assert.Equal(t, 0, q.Len())
}

func TestPopBatchOnEmptyQueue(t *testing.T) {
	q := New(nil, 3)
	batch := q.PopBatch(5)
	assert.Empty(t, batch)
}

func TestRequeuePutsItemsBackAtFront(t *testing.T) {
	q := New(nil, 3)
	q.Push(KindMessage, "new")

	failed := []Item{{Kind: KindMessage, Payload: "retry-me"}}
	dead := q.Requeue(failed)
	assert.Equal(t, 0, dead)

	batch := q.PopBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "retry-me", batch[0].Payload)
	assert.Equal(t, "new", batch[1].Payload)
	assert.Equal(t, 1, batch[0].retries)
}

func TestRequeueDeadLettersAfterMaxRetries(t *testing.T) {
	q := New(nil, 1)
	item := Item{Kind: KindMessage, Payload: "doomed", retries: 1}

	dead := q.Requeue([]Item{item})
	assert.Equal(t, 1, dead)
	assert.Equal(t, 0, q.Len())

	letters := q.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, "doomed", letters[0].Payload)
}

func TestDeadLettersReturnsACopy(t *testing.T) {
	q := New(nil, 0)
	q.Requeue([]Item{{Kind: KindMessage, Payload: "x"}})

	letters := q.DeadLetters()
	letters[0].Payload = "mutated"

	assert.Equal(t, "x", q.DeadLetters()[0].Payload)
}
