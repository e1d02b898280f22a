// Package stream manages the single in-flight draft message per thread that
// a streaming turn edits as text arrives: first content flushes immediately,
// subsequent edits are throttled to one per EditPeriod, and the draft is
// finalized or marked "[interrupted]" when the turn ends. The throttle and
// edit-in-place idiom is grounded on the original tree's Telegram channel,
// which already tracks one placeholder message id per chat
// (internal/channels/telegram/handlers.go's c.placeholders map) and a typing
// keepalive controller (internal/channels/typing) — this package generalizes
// that single-placeholder idea into a channel-agnostic draft accumulator.
package stream

import (
	"strings"
	"sync"
	"time"
)

// Sink is the channel-specific half: create the first draft message, edit it
// in place, and finalize it. Implemented once per channel (e.g. Telegram).
type Sink interface {
	Send(text string) (messageID string, err error)
	Edit(messageID, text string) error
}

// maxMessageLength is the point at which a draft stops growing the current
// message and starts a new one instead of editing past the channel's own
// size limit (Telegram's hard cap is 4096 UTF-16 code units; this is a safe
// UTF-8 byte approximation).
const maxMessageLength = 3800

// Draft accumulates one assistant turn's text and reconciles it onto a
// channel message, editing no more than once per EditPeriod after the first
// flush.
type Draft struct {
	mu         sync.Mutex
	sink       Sink
	editPeriod time.Duration

	messageIDs []string // one per chunk, in order; len>1 once content overflows maxMessageLength
	buf        strings.Builder
	chunkStart int // byte offset into buf where the current (last) chunk begins
	lastEdit   time.Time
	timer      *time.Timer
	dirty      bool
	done       bool
}

func NewDraft(sink Sink, editPeriod time.Duration) *Draft {
	return &Draft{sink: sink, editPeriod: editPeriod}
}

// Append adds a text delta to the draft, flushing immediately if this is the
// first content, or scheduling a throttled flush otherwise.
func (d *Draft) Append(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done || text == "" {
		return nil
	}
	d.buf.WriteString(text)
	d.dirty = true

	if len(d.messageIDs) == 0 {
		return d.flushLocked()
	}
	if time.Since(d.lastEdit) >= d.editPeriod {
		return d.flushLocked()
	}
	d.scheduleLocked()
	return nil
}

func (d *Draft) scheduleLocked() {
	if d.timer != nil {
		return
	}
	wait := d.editPeriod - time.Since(d.lastEdit)
	if wait < 0 {
		wait = 0
	}
	d.timer = time.AfterFunc(wait, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.timer = nil
		if d.dirty && !d.done {
			_ = d.flushLocked()
		}
	})
}

// flushLocked pushes the current chunk to the sink, splitting into a new
// message when the chunk has grown past maxMessageLength.
func (d *Draft) flushLocked() error {
	full := d.buf.String()
	current := full[d.chunkStart:]

	if len(current) > maxMessageLength {
		// Close out the prior chunk as-is, start a new message for the overflow.
		splitAt := lastSafeSplit(current, maxMessageLength)
		head := current[:splitAt]
		if len(d.messageIDs) == 0 {
			id, err := d.sink.Send(head)
			if err != nil {
				return err
			}
			d.messageIDs = append(d.messageIDs, id)
		} else if err := d.sink.Edit(d.messageIDs[len(d.messageIDs)-1], head); err != nil {
			return err
		}
		d.chunkStart += splitAt
		tail := full[d.chunkStart:]
		id, err := d.sink.Send(tail)
		if err != nil {
			return err
		}
		d.messageIDs = append(d.messageIDs, id)
		d.lastEdit = time.Now()
		d.dirty = false
		return nil
	}

	if len(d.messageIDs) == 0 {
		id, err := d.sink.Send(current)
		if err != nil {
			return err
		}
		d.messageIDs = append(d.messageIDs, id)
	} else if err := d.sink.Edit(d.messageIDs[len(d.messageIDs)-1], current); err != nil {
		return err
	}
	d.lastEdit = time.Now()
	d.dirty = false
	return nil
}

func lastSafeSplit(s string, max int) int {
	if max >= len(s) {
		return len(s)
	}
	if idx := strings.LastIndex(s[:max], "\n"); idx > max/2 {
		return idx
	}
	return max
}

// Finalize flushes any remaining content and marks the draft complete.
func (d *Draft) Finalize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return nil
	}
	d.done = true
	if d.timer != nil {
		d.timer.Stop()
	}
	if d.dirty {
		return d.flushLocked()
	}
	return nil
}

// Interrupt flushes remaining content with an "[interrupted]" suffix and
// marks the draft complete, used when a newer message cancels this turn.
func (d *Draft) Interrupt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return nil
	}
	d.done = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.buf.WriteString("\n\n[interrupted]")
	d.dirty = true
	return d.flushLocked()
}
