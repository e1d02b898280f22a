package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repository reads when the row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the durable-store gateway: repositories over the relational
// database for users, threads, messages, user_files, and balance
// operations. Messages and user files reach it through the write-behind
// flusher; users, chats and threads are written directly by ingress, and
// the agent loop reads threads, users and messages directly every turn.
type Store interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	UpsertUser(ctx context.Context, u *User) error

	GetChat(ctx context.Context, chatID string) (*Chat, error)
	UpsertChat(ctx context.Context, c *Chat) error

	GetThread(ctx context.Context, chatID, userID, topicID string) (*Thread, error)
	CreateThread(ctx context.Context, t *Thread) error

	AppendMessages(ctx context.Context, msgs []Message) error
	ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)

	CreateUserFile(ctx context.Context, f *UserFile) error
	ListUserFiles(ctx context.Context, threadID string) ([]UserFile, error)
	DeleteUserFile(ctx context.Context, id string) error
	ListExpiredUserFiles(ctx context.Context, now int64) ([]UserFile, error)

	// ApplyBalanceOp is the single atomic unit that may mutate User.BalanceMicros:
	// it inserts the BalanceOperation row and updates the user's balance in one
	// transaction, and is always on the synchronous critical path (never
	// write-behind) per the no-lost-charge invariant.
	ApplyBalanceOp(ctx context.Context, op *BalanceOperation) (balanceAfter int64, err error)
	ListBalanceOps(ctx context.Context, userID string, limit int) ([]BalanceOperation, error)
}
