package writebehind

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/tollgate/internal/store"
)

// Flusher wakes every Interval, drains up to BatchSize items, groups them by
// kind, and writes all messages with one AppendMessages call and each user
// file with its own CreateUserFile call. On shutdown it drains once more
// before returning.
type Flusher struct {
	queue     *Queue
	store     store.Store
	Interval  time.Duration
	BatchSize int
}

func NewFlusher(q *Queue, st store.Store, interval time.Duration, batchSize int) *Flusher {
	return &Flusher{queue: q, store: st, Interval: interval, BatchSize: batchSize}
}

// Run blocks, flushing on Interval until ctx is cancelled, then performs one
// final drain before returning.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.flushOnce(ctx)
		case <-ctx.Done():
			f.drainAll(ctx)
			return
		}
	}
}

func (f *Flusher) drainAll(ctx context.Context) {
	for f.queue.Len() > 0 {
		f.flushOnce(ctx)
	}
}

func (f *Flusher) flushOnce(ctx context.Context) {
	batch := f.queue.PopBatch(f.BatchSize)
	if len(batch) == 0 {
		return
	}

	var messages []store.Message
	var userFiles []Item
	var failed []Item

	for _, item := range batch {
		switch item.Kind {
		case KindMessage:
			if m, ok := item.Payload.(store.Message); ok {
				messages = append(messages, m)
			}
		case KindUserFile:
			if _, ok := item.Payload.(*store.UserFile); ok {
				userFiles = append(userFiles, item)
			}
		}
	}

	if len(messages) > 0 {
		if err := f.store.AppendMessages(ctx, messages); err != nil {
			slog.Warn("write-behind flush failed", "kind", KindMessage, "count", len(messages), "error", err)
			failed = append(failed, itemsOfKind(batch, KindMessage)...)
		}
	}
	for _, it := range userFiles {
		uf := it.Payload.(*store.UserFile)
		if err := f.store.CreateUserFile(ctx, uf); err != nil {
			slog.Warn("write-behind flush failed", "kind", KindUserFile, "file", uf.ID, "error", err)
			failed = append(failed, it)
		}
	}

	if len(failed) > 0 {
		dead := f.queue.Requeue(failed)
		if dead > 0 {
			slog.Error("write-behind items dead-lettered", "count", dead)
		}
	}
}

func itemsOfKind(batch []Item, kind Kind) []Item {
	var out []Item
	for _, it := range batch {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}
