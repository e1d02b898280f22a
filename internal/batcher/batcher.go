// Package batcher coalesces rapid-fire inbound messages on one thread into
// a single agent turn: it holds a short window open, appends everything
// that arrives during it, and guarantees only one batch per thread is ever
// in flight. A message that arrives while a turn is already running
// cancels that turn rather than queuing behind it, the same
// one-active-generation-per-chat rule internal/agent/loop.go applies per
// session, pushed down here to thread granularity.
package batcher

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/tollgate/internal/gentrack"
)

// Item is one inbound message queued for batching.
type Item struct {
	ThreadID string
	ChatID   string
	UserID   string
	Content  string
}

// Batch is the coalesced result handed to the orchestrator.
type Batch struct {
	ThreadID string
	ChatID   string
	UserID   string
	Items    []Item
}

// Handler runs one batch to completion. It is invoked on its own goroutine
// per thread and must not block indefinitely past cancel being closed.
type Handler func(batch Batch, cancel <-chan struct{})

// Batcher serializes turns per thread: a window-open timer gathers
// same-thread arrivals, and a new message during an active turn cancels it
// via gentrack before opening a fresh window.
type Batcher struct {
	mu      sync.Mutex
	pending map[string]*window
	running map[string]struct{}
	gen     *gentrack.Tracker
	window  time.Duration
	handle  Handler
}

type window struct {
	items []Item
	timer *time.Timer
}

func New(gen *gentrack.Tracker, windowDuration time.Duration, handle Handler) *Batcher {
	return &Batcher{
		pending: make(map[string]*window),
		running: make(map[string]struct{}),
		gen:     gen,
		window:  windowDuration,
		handle:  handle,
	}
}

// Push enqueues an inbound item. If a turn is currently running for this
// thread, it is cancelled — a new message interrupts the active
// generation — and the item joins (or opens) the thread's pending batching
// window at once; when that window fires while the cancelled turn is still
// running, dispatch is retried until the thread is free.
func (b *Batcher) Push(item Item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, active := b.running[item.ThreadID]; active {
		b.gen.Cancel(item.ChatID, item.UserID)
	}

	w, ok := b.pending[item.ThreadID]
	if !ok {
		w = &window{}
		b.pending[item.ThreadID] = w
		w.timer = time.AfterFunc(b.window, func() { b.fire(item.ThreadID) })
	}
	w.items = append(w.items, item)
}

func (b *Batcher) fire(threadID string) {
	b.mu.Lock()
	w, ok := b.pending[threadID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.pending, threadID)
	if _, active := b.running[threadID]; active {
		// A turn is still draining its cancellation; re-arm the window so
		// these items aren't lost, and try again shortly.
		b.pending[threadID] = w
		w.timer = time.AfterFunc(50*time.Millisecond, func() { b.fire(threadID) })
		b.mu.Unlock()
		return
	}
	b.running[threadID] = struct{}{}
	b.mu.Unlock()

	batch := Batch{ThreadID: threadID, ChatID: w.items[0].ChatID, UserID: w.items[0].UserID, Items: w.items}
	gen := b.gen.Start(batch.ChatID, batch.UserID, threadID+":"+time.Now().String())

	go func() {
		defer func() {
			b.gen.Clear(batch.ChatID, batch.UserID, gen.ID)
			b.mu.Lock()
			delete(b.running, threadID)
			b.mu.Unlock()
		}()
		b.handle(batch, gen.Cancel)
	}()
}
