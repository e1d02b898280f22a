package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/tollgate/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetUserReturnsErrNotFoundWhenMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertUserThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &store.User{ID: "u1", DisplayName: "Ada", BalanceMicros: 5_000_000, IsPremium: true}
	require.NoError(t, s.UpsertUser(ctx, u))

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.DisplayName)
	assert.Equal(t, int64(5_000_000), got.BalanceMicros)
	assert.True(t, got.IsPremium)
}

func TestUpsertUserUpdatesExistingRowButLeavesBalanceUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, &store.User{ID: "u1", DisplayName: "Ada", BalanceMicros: 1_000_000}))
	require.NoError(t, s.UpsertUser(ctx, &store.User{ID: "u1", DisplayName: "Ada Lovelace", BalanceMicros: 999_999_999}))

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.DisplayName)
	assert.Equal(t, int64(1_000_000), got.BalanceMicros, "upsert must not be a path for mutating balance")
}

func TestChatUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &store.Chat{ID: "c1", Kind: store.ChatSupergroup, Title: "General", IsForum: true}
	require.NoError(t, s.UpsertChat(ctx, c))

	got, err := s.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, store.ChatSupergroup, got.Kind)
	assert.True(t, got.IsForum)
}

func TestCreateThreadThenGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	th := &store.Thread{ChatID: "c1", UserID: "u1", TopicID: "5", ModelKey: "claude-sonnet"}
	require.NoError(t, s.CreateThread(ctx, th))
	require.NotEmpty(t, th.ID)

	got, err := s.GetThread(ctx, "c1", "u1", "5")
	require.NoError(t, err)
	assert.Equal(t, th.ID, got.ID)
	assert.Equal(t, "claude-sonnet", got.ModelKey)
}

func TestCreateThreadIsIdempotentOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &store.Thread{ChatID: "c1", UserID: "u1", TopicID: ""}
	require.NoError(t, s.CreateThread(ctx, first))

	second := &store.Thread{ChatID: "c1", UserID: "u1", TopicID: ""}
	require.NoError(t, s.CreateThread(ctx, second))

	got, err := s.GetThread(ctx, "c1", "u1", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "duplicate create must keep the original row, not overwrite its id")
}

func TestAppendMessagesThenListInCreationOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	msgs := []store.Message{
		{ChatID: "c1", ExternalMsgID: "1", ThreadID: "t1", Role: store.RoleUser, Text: "hi", CreatedAt: now},
		{ChatID: "c1", ExternalMsgID: "2", ThreadID: "t1", Role: store.RoleAssistant, Text: "hello", CreatedAt: now.Add(time.Second)},
	}
	require.NoError(t, s.AppendMessages(ctx, msgs))

	got, err := s.ListMessages(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].Text)
	assert.Equal(t, "hello", got[1].Text)
}

func TestAppendMessagesEmptySliceIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendMessages(context.Background(), nil))
}

func TestAppendMessagesUpsertsOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := store.Message{ChatID: "c1", ExternalMsgID: "1", ThreadID: "t1", Role: store.RoleUser, Text: "first", CreatedAt: time.Now()}
	require.NoError(t, s.AppendMessages(ctx, []store.Message{msg}))

	msg.Text = "edited"
	require.NoError(t, s.AppendMessages(ctx, []store.Message{msg}))

	got, err := s.ListMessages(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "edited", got[0].Text)
}

func TestUserFileCreateListAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := &store.UserFile{
		ThreadID: "t1", Filename: "report.csv", FileKind: store.FileDocument,
		Origin: store.OriginAssistant, UploadedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
		Metadata: map[string]string{"k": "v"},
	}
	require.NoError(t, s.CreateUserFile(ctx, f))
	require.NotEmpty(t, f.ID)

	files, err := s.ListUserFiles(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "report.csv", files[0].Filename)
	assert.Equal(t, "v", files[0].Metadata["k"])

	require.NoError(t, s.DeleteUserFile(ctx, f.ID))
	files, err = s.ListUserFiles(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestListExpiredUserFilesOnlyReturnsPastExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	require.NoError(t, s.CreateUserFile(ctx, &store.UserFile{
		ThreadID: "t1", Filename: "old.txt", FileKind: store.FileDocument,
		Origin: store.OriginUser, UploadedAt: past, ExpiresAt: past,
	}))
	require.NoError(t, s.CreateUserFile(ctx, &store.UserFile{
		ThreadID: "t1", Filename: "fresh.txt", FileKind: store.FileDocument,
		Origin: store.OriginUser, UploadedAt: time.Now(), ExpiresAt: future,
	}))

	expired, err := s.ListExpiredUserFiles(ctx, time.Now().Unix())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old.txt", expired[0].Filename)
}

func TestApplyBalanceOpUpdatesUserAndRecordsAuditRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertUser(ctx, &store.User{ID: "u1", BalanceMicros: 1_000_000}))

	after, err := s.ApplyBalanceOp(ctx, &store.BalanceOperation{
		UserID: "u1", Kind: store.OpCharge, AmountMicros: -250_000, Description: "turn charge",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(750_000), after)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(750_000), u.BalanceMicros)

	ops, err := s.ListBalanceOps(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, int64(1_000_000), ops[0].BalanceBeforeMicros)
	assert.Equal(t, int64(750_000), ops[0].BalanceAfterMicros)
	assert.Equal(t, store.OpCharge, ops[0].Kind)
}

func TestApplyBalanceOpErrorsForUnknownUser(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ApplyBalanceOp(context.Background(), &store.BalanceOperation{UserID: "ghost", AmountMicros: 1})
	assert.Error(t, err)
}

func TestListBalanceOpsOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertUser(ctx, &store.User{ID: "u1", BalanceMicros: 1_000_000}))

	_, err := s.ApplyBalanceOp(ctx, &store.BalanceOperation{UserID: "u1", Kind: store.OpDeposit, AmountMicros: 100})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = s.ApplyBalanceOp(ctx, &store.BalanceOperation{UserID: "u1", Kind: store.OpCharge, AmountMicros: -50})
	require.NoError(t, err)

	ops, err := s.ListBalanceOps(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, store.OpCharge, ops[0].Kind, "most recent op should come first")
}
