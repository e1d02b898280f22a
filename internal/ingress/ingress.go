// Package ingress normalizes raw frontend events into ProcessedMessages
// before they ever reach the per-thread batcher: User and Thread
// resolution is cache-first with durable-store backfill (Chat is upserted
// straight into the durable store on every event), media
// is downloaded/transcribed/uploaded here (not inside the turn loop) so
// turn-level code never races on file availability, and oversize uploads
// are rejected before any state mutation.
package ingress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tollgate/internal/cache"
	"github.com/nextlevelbuilder/tollgate/internal/filestore"
	"github.com/nextlevelbuilder/tollgate/internal/store"
	"github.com/nextlevelbuilder/tollgate/internal/tools"
	"github.com/nextlevelbuilder/tollgate/internal/writebehind"
)

// ErrOversize is returned when a media body exceeds the caller's size limit.
// No state is mutated before this check runs.
var ErrOversize = fmt.Errorf("ingress: file exceeds size limit")

const (
	defaultMaxBytes        int64 = 20 * 1024 * 1024        // 20 MiB default
	defaultMaxBytesPremium int64 = 2 * 1024 * 1024 * 1024   // 2 GiB for premium users
)

// RawMedia is one media body a channel adapter has already downloaded from
// the frontend, awaiting upload/transcription.
type RawMedia struct {
	Kind               store.FileKind
	Filename           string
	Mime               string
	Data               []byte
	TranscribeSync     bool // true for voice/video-note: transcribe before handing off
}

// RawEvent is a single frontend event, already downloaded of any media
// bodies by the channel-specific adapter, awaiting normalization.
type RawEvent struct {
	ChatID          string
	ChatKind        store.ChatKind
	ChatTitle       string
	IsForum         bool
	TopicID         string
	UserID          string
	UserDisplayName string
	IsPremiumUser   bool
	ExternalMsgID   string
	Text            string
	Caption         string
	Media           []RawMedia
}

// UploadedFile describes one media body after it has cleared ingestion.
type UploadedFile struct {
	ProviderFileID  string
	Filename        string
	FileKind        store.FileKind
	Mime            string
	Size            int64
	Transcript      string
	TranscribeError bool
}

// ProcessedMessage is the ingress normalizer's output, handed to the
// per-thread batcher.
type ProcessedMessage struct {
	ThreadID      string
	ChatID        string
	UserID        string
	ExternalMsgID string
	Role          store.MessageRole
	Text          string
	Caption       string
	Files         []UploadedFile
	UploadContext string
}

// Normalizer wires cache-first resolution, file upload/transcription, and
// size enforcement ahead of the batcher.
type Normalizer struct {
	store   store.Store
	breaker *cache.Breaker
	files   *filestore.Store
	wb      *writebehind.Queue
	stt     tools.TranscribeConfig

	cacheTTL        time.Duration
	maxBytes        int64
	maxBytesPremium int64
}

func New(st store.Store, breaker *cache.Breaker, files *filestore.Store, wb *writebehind.Queue, stt tools.TranscribeConfig, cacheTTL time.Duration) *Normalizer {
	return &Normalizer{
		store:           st,
		breaker:         breaker,
		files:           files,
		wb:              wb,
		stt:             stt,
		cacheTTL:        cacheTTL,
		maxBytes:        defaultMaxBytes,
		maxBytesPremium: defaultMaxBytesPremium,
	}
}

// ResolveUser looks up a user cache-first, backfilling from and
// upserting into the durable store on miss.
func (n *Normalizer) ResolveUser(ctx context.Context, userID, displayName string) (*store.User, error) {
	key := cache.UserKey(userID)
	if v, ok := n.breaker.Get(key); ok {
		if u, ok := v.(*store.User); ok {
			return u, nil
		}
	}

	u, err := n.store.GetUser(ctx, userID)
	if err == store.ErrNotFound {
		u = &store.User{ID: userID, DisplayName: displayName, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		if err := n.store.UpsertUser(ctx, u); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	n.breaker.Set(key, u, n.cacheTTL)
	return u, nil
}

// ResolveChat upserts the chat into the durable store on every call with
// the kind, title and forum flag the frontend reports; chats are not
// cached, so this path has no cache-first lookup.
func (n *Normalizer) ResolveChat(ctx context.Context, chatID string, kind store.ChatKind, title string, isForum bool) (*store.Chat, error) {
	c := &store.Chat{ID: chatID, Kind: kind, Title: title, IsForum: isForum}
	if err := n.store.UpsertChat(ctx, c); err != nil {
		return nil, fmt.Errorf("upsert chat: %w", err)
	}
	return c, nil
}

// ResolveThread looks up a (chat, user, topic) thread cache-first,
// creating and back-filling the cache on miss.
func (n *Normalizer) ResolveThread(ctx context.Context, chatID, userID, topicID string) (*store.Thread, error) {
	key := cache.ThreadKey(chatID, userID, topicID)
	if v, ok := n.breaker.Get(key); ok {
		if t, ok := v.(*store.Thread); ok {
			return t, nil
		}
	}

	t, err := n.store.GetThread(ctx, chatID, userID, topicID)
	if err == store.ErrNotFound {
		t = &store.Thread{
			ID:        uuid.NewString(),
			ChatID:    chatID,
			UserID:    userID,
			TopicID:   topicID,
			CreatedAt: time.Now(),
		}
		if err := n.store.CreateThread(ctx, t); err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	n.breaker.Set(key, t, n.cacheTTL)
	return t, nil
}

// Normalize runs the pipeline's four steps: resolve identity, ingest media
// (download already done by the caller; this stage transcribes/uploads/
// enforces size), enforce size limits, and produce a ProcessedMessage.
func (n *Normalizer) Normalize(ctx context.Context, ev RawEvent) (*ProcessedMessage, error) {
	// Size limits run before any resolve, so an oversize body leaves no
	// user, chat or thread row behind.
	limit := n.maxBytes
	if u, err := n.store.GetUser(ctx, ev.UserID); ev.IsPremiumUser || (err == nil && u.IsPremium) {
		limit = n.maxBytesPremium
	}
	for _, m := range ev.Media {
		if int64(len(m.Data)) > limit {
			return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrOversize, m.Filename, len(m.Data), limit)
		}
	}

	if _, err := n.ResolveUser(ctx, ev.UserID, ev.UserDisplayName); err != nil {
		return nil, err
	}
	if _, err := n.ResolveChat(ctx, ev.ChatID, ev.ChatKind, ev.ChatTitle, ev.IsForum); err != nil {
		return nil, err
	}
	thread, err := n.ResolveThread(ctx, ev.ChatID, ev.UserID, ev.TopicID)
	if err != nil {
		return nil, err
	}

	var uploaded []UploadedFile
	for _, m := range ev.Media {
		uf := UploadedFile{Filename: m.Filename, FileKind: m.Kind, Mime: m.Mime, Size: int64(len(m.Data))}

		if m.TranscribeSync {
			transcript, terr := tools.Transcribe(ctx, n.stt, m.Filename, m.Data)
			if terr != nil {
				uf.TranscribeError = true
			} else {
				uf.Transcript = transcript
			}
			// Voice/video-note bodies are still uploaded to the file
			// service so analyze/preview tools can reach the original
			// audio later even though the transcript already travels
			// with this turn.
		}

		providerFileID, uerr := n.files.Upload(ctx, m.Filename, m.Mime, m.Data)
		if uerr != nil {
			return nil, fmt.Errorf("upload %s: %w", m.Filename, uerr)
		}
		uf.ProviderFileID = providerFileID
		uploaded = append(uploaded, uf)

		n.queueUserFile(thread.ID, providerFileID, ev.Caption, uf)
	}

	return &ProcessedMessage{
		ThreadID:      thread.ID,
		ChatID:        ev.ChatID,
		UserID:        ev.UserID,
		ExternalMsgID: ev.ExternalMsgID,
		Role:          store.RoleUser,
		Text:          ev.Text,
		Caption:       ev.Caption,
		Files:         uploaded,
		UploadContext: ev.Caption,
	}, nil
}

// queueUserFile writes the UserFile row through write-behind but updates
// the cache's per-thread file list immediately, so a context-builder read
// moments later already sees the new file even though the durable row
// hasn't landed yet.
func (n *Normalizer) queueUserFile(threadID, providerFileID, uploadContext string, uf UploadedFile) {
	now := time.Now()
	row := &store.UserFile{
		ID:             uuid.NewString(),
		ThreadID:       threadID,
		ProviderFileID: providerFileID,
		Filename:       uf.Filename,
		FileKind:       uf.FileKind,
		Mime:           uf.Mime,
		Size:           uf.Size,
		UploadedAt:     now,
		ExpiresAt:      now.Add(30 * 24 * time.Hour),
		Origin:         store.OriginUser,
		UploadContext:  uploadContext,
	}
	n.wb.Push(writebehind.KindUserFile, row)

	key := cache.ThreadFilesKey(threadID)
	var files []store.UserFile
	if v, ok := n.breaker.Get(key); ok {
		if existing, ok := v.([]store.UserFile); ok {
			files = existing
		}
	}
	files = append(files, *row)
	n.breaker.Set(key, files, n.cacheTTL)
}
