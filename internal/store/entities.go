// Package store defines the durable entities and repository contracts for
// the gateway's system of record. Messages and user files are written
// through the write-behind flusher and balance mutations go straight to the
// durable store; users, chats and threads are also written directly by
// ingress, and the agent loop reads the thread, user and message history
// from the store on every turn, not only on a cache miss.
package store

import "time"

// ChatKind enumerates the external chat types the gateway serves.
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

// MessageRole enumerates who authored a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// FileKind enumerates the UserFile.FileKind values.
type FileKind string

const (
	FileImage     FileKind = "image"
	FilePDF       FileKind = "pdf"
	FileDocument  FileKind = "document"
	FileAudio     FileKind = "audio"
	FileVoice     FileKind = "voice"
	FileVideo     FileKind = "video"
	FileGenerated FileKind = "generated"
)

// FileOrigin enumerates who produced a UserFile.
type FileOrigin string

const (
	OriginUser      FileOrigin = "user"
	OriginAssistant FileOrigin = "assistant"
)

// BalanceOpKind enumerates BalanceOperation.Kind.
type BalanceOpKind string

const (
	OpDeposit     BalanceOpKind = "deposit"
	OpCharge      BalanceOpKind = "charge"
	OpRefund      BalanceOpKind = "refund"
	OpAdminAdjust BalanceOpKind = "admin_adjust"
)

// User is the external-user aggregate. Balance is the only field mutated
// inside a turn, and only through a BalanceOperation recorded in the same
// atomic write (see Store.ApplyBalanceOp).
type User struct {
	ID                 string
	DisplayName        string
	PreferredModelKey  string
	CustomPersonality  string
	BalanceMicros      int64 // USD * 1e6, >=6 fractional digits for accounting
	IsPremium          bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Chat scopes Threads to an external chat surface.
type Chat struct {
	ID      string
	Kind    ChatKind
	Title   string
	IsForum bool
}

// Thread is a conversation slice keyed by (chat_id, user_id, topic_id).
// It is the unit of history and per-thread serialization.
type Thread struct {
	ID                 string
	ChatID             string
	UserID             string
	TopicID            string // empty when the chat has no forum topics
	ModelKey            string
	PerThreadSystemPrompt string
	CreatedAt          time.Time
}

// Attachment is a typed file descriptor embedded in a Message.
type Attachment struct {
	UserFileID string
	FileKind   FileKind
	Filename   string
}

// Message is append-only. EditedAt exists on the type, but nothing sets it
// and the stores do not persist it.
type Message struct {
	ChatID           string
	ExternalMsgID    string
	ThreadID         string
	Role             MessageRole
	Text             string
	Caption          string
	ReplyTo          string
	MediaGroupID     string
	Attachments      []Attachment
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	ThinkingTokens   int64
	CreatedAt        time.Time
	EditedAt         *time.Time
}

// UserFile is a file known to the system, either uploaded by a user or
// produced by the assistant. expires_at = uploaded_at + TTL; expired rows
// can be listed with Store.ListExpiredUserFiles, but no component deletes
// them or their provider-side files.
type UserFile struct {
	ID             string
	ThreadID       string
	SourceRef      string
	ProviderFileID string
	Filename       string
	FileKind       FileKind
	Mime           string
	Size           int64
	UploadedAt     time.Time
	ExpiresAt      time.Time
	Origin         FileOrigin
	UploadContext  string
	Metadata       map[string]string
}

// BalanceOperation is an immutable audit row. Only writes to this table may
// also write User.BalanceMicros, and both happen in one durable-store
// transaction (see Store.ApplyBalanceOp).
type BalanceOperation struct {
	ID                string
	UserID            string
	Kind              BalanceOpKind
	AmountMicros      int64 // signed
	BalanceBeforeMicros int64
	BalanceAfterMicros  int64
	Description       string
	ProviderChargeID  string
	LinkedMessageID   string
	InputTokens       int64
	OutputTokens      int64
	CreatedAt         time.Time
}
