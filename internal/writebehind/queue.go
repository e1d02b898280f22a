// Package writebehind implements the cache-resident write-behind queue and
// its periodic flusher: messages, user-file metadata, and other
// recomputable/non-financial writes land here instead of on the
// durable-store critical path. Balance updates never pass through it
// (internal/balance writes those synchronously, never write-behind).
package writebehind

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/tollgate/internal/cache"
)

// Kind enumerates the batchable write kinds the flusher groups by.
type Kind string

const (
	KindMessage  Kind = "message"
	KindUserFile Kind = "user_file"
)

// Item is one queued write.
type Item struct {
	Kind     Kind
	Payload  any
	QueuedAt time.Time
	retries  int
}

// Queue is an append-only list guarded by its own mutex so push and
// batch-pop are atomic. Its current length (not the items themselves) is
// mirrored into the cache's write:queue key.
type Queue struct {
	mu        sync.Mutex
	items     []Item
	deadLetter []Item
	breaker   *cache.Breaker
	maxRetries int
}

func New(breaker *cache.Breaker, maxRetries int) *Queue {
	return &Queue{breaker: breaker, maxRetries: maxRetries}
}

// Push appends an item to the queue.
func (q *Queue) Push(kind Kind, payload any) {
	q.mu.Lock()
	q.items = append(q.items, Item{Kind: kind, Payload: payload, QueuedAt: time.Now()})
	q.mu.Unlock()
	q.publishLen()
}

// PopBatch removes and returns up to n items, FIFO.
func (q *Queue) PopBatch(n int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := q.items[:n]
	q.items = q.items[n:]
	q.publishLenLocked()
	return batch
}

// Requeue puts failed items back at the front, bumping their retry count;
// items exceeding maxRetries are moved to the dead-letter list instead.
func (q *Queue) Requeue(items []Item) (deadLettered int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var retry []Item
	for _, it := range items {
		it.retries++
		if it.retries > q.maxRetries {
			q.deadLetter = append(q.deadLetter, it)
			deadLettered++
			continue
		}
		retry = append(retry, it)
	}
	q.items = append(retry, q.items...)
	q.publishLenLocked()
	return deadLettered
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DeadLetters returns a copy of the dead-letter list for alerting/inspection.
func (q *Queue) DeadLetters() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}

func (q *Queue) publishLen() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.publishLenLocked()
}

func (q *Queue) publishLenLocked() {
	if q.breaker != nil {
		q.breaker.Set(cache.WriteQueueKey, len(q.items), 0)
	}
}
