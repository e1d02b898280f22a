package ingress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/tollgate/internal/cache"
	"github.com/nextlevelbuilder/tollgate/internal/store"
	"github.com/nextlevelbuilder/tollgate/internal/tools"
	"github.com/nextlevelbuilder/tollgate/internal/writebehind"
)

type fakeStore struct {
	store.Store
	users   map[string]*store.User
	chats   map[string]*store.Chat
	threads map[string]*store.Thread
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]*store.User),
		chats:   make(map[string]*store.Chat),
		threads: make(map[string]*store.Thread),
	}
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpsertUser(ctx context.Context, u *store.User) error {
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) UpsertChat(ctx context.Context, c *store.Chat) error {
	f.chats[c.ID] = c
	return nil
}

func (f *fakeStore) GetThread(ctx context.Context, chatID, userID, topicID string) (*store.Thread, error) {
	key := chatID + "\x00" + userID + "\x00" + topicID
	if t, ok := f.threads[key]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateThread(ctx context.Context, t *store.Thread) error {
	key := t.ChatID + "\x00" + t.UserID + "\x00" + t.TopicID
	f.threads[key] = t
	return nil
}

func newNormalizer(st store.Store) *Normalizer {
	breaker := cache.NewBreaker(cache.New(), 5, time.Minute)
	wb := writebehind.New(breaker, 5)
	return New(st, breaker, nil, wb, tools.TranscribeConfig{}, time.Minute)
}

func TestResolveUserCreatesOnFirstLookupThenCaches(t *testing.T) {
	st := newFakeStore()
	n := newNormalizer(st)

	u1, err := n.ResolveUser(context.Background(), "u1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u1.DisplayName)

	delete(st.users, "u1")

	u2, err := n.ResolveUser(context.Background(), "u1", "ignored second name")
	require.NoError(t, err)
	assert.Same(t, u1, u2, "second resolve must be served from cache, not the (now empty) store")
}

func TestResolveChatUpsertsEveryCall(t *testing.T) {
	st := newFakeStore()
	n := newNormalizer(st)

	c, err := n.ResolveChat(context.Background(), "chat1", store.ChatGroup, "Title", true)
	require.NoError(t, err)
	assert.Equal(t, "Title", c.Title)
	assert.True(t, c.IsForum)
	assert.Same(t, c, st.chats["chat1"])
}

func TestResolveThreadCreatesOnMissThenCaches(t *testing.T) {
	st := newFakeStore()
	n := newNormalizer(st)

	th1, err := n.ResolveThread(context.Background(), "chat1", "u1", "")
	require.NoError(t, err)
	require.NotEmpty(t, th1.ID)

	delete(st.threads, "chat1\x00u1\x00")

	th2, err := n.ResolveThread(context.Background(), "chat1", "u1", "")
	require.NoError(t, err)
	assert.Same(t, th1, th2)
}

func TestNormalizeTextOnlyMessage(t *testing.T) {
	st := newFakeStore()
	n := newNormalizer(st)

	msg, err := n.Normalize(context.Background(), RawEvent{
		ChatID:          "chat1",
		ChatKind:        store.ChatPrivate,
		UserID:          "u1",
		UserDisplayName: "Alice",
		ExternalMsgID:   "ext-1",
		Text:            "hello there",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", msg.Text)
	assert.Equal(t, store.RoleUser, msg.Role)
	assert.Empty(t, msg.Files)
	require.NotEmpty(t, msg.ThreadID)
}

func TestNormalizeRejectsOversizeMediaBeforeUpload(t *testing.T) {
	st := newFakeStore()
	n := newNormalizer(st)
	n.maxBytes = 10

	_, err := n.Normalize(context.Background(), RawEvent{
		ChatID:          "chat1",
		ChatKind:        store.ChatPrivate,
		UserID:          "u1",
		UserDisplayName: "Alice",
		Media: []RawMedia{
			{Kind: store.FileImage, Filename: "big.png", Data: make([]byte, 1024)},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOversize))
}

func TestNormalizeUsesPremiumLimitForPremiumUsers(t *testing.T) {
	st := newFakeStore()
	st.users["u1"] = &store.User{ID: "u1", IsPremium: true}
	n := newNormalizer(st)
	n.maxBytes = 10
	n.maxBytesPremium = 10_000

	_, err := n.Normalize(context.Background(), RawEvent{
		ChatID:          "chat1",
		ChatKind:        store.ChatPrivate,
		UserID:          "u1",
		UserDisplayName: "Alice",
		Media: []RawMedia{
			{Kind: store.FileImage, Filename: "ok.png", Data: make([]byte, 1024)},
		},
	})
	// Size passes the premium limit; it will fail later trying to reach the
	// provider's Files API with no configured client, which is the expected
	// boundary for this test (size-limit selection, not the upload itself).
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrOversize), "premium limit must not reject a file under the premium cap")
}
