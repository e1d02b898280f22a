package contextbuild

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/tollgate/internal/cache"
	"github.com/nextlevelbuilder/tollgate/internal/execartifact"
	"github.com/nextlevelbuilder/tollgate/internal/store"
)

func charsEstimate(s string) int { return len(s) }

func newBuilder(cfg Config) *Builder {
	artifacts := execartifact.New(cache.NewBreaker(cache.New(), 5, time.Minute), time.Minute)
	return New(cfg, artifacts, charsEstimate)
}

func TestBuildIncludesCacheControlledSystemPrompt(t *testing.T) {
	b := newBuilder(Config{MaxHistoryMessages: 10})
	_, system := b.Build(Input{
		SystemPrompt: "you are helpful",
		Thread:       &store.Thread{ID: "t1"},
	})

	require.NotEmpty(t, system)
	assert.Equal(t, "you are helpful", system[0].Text)
	assert.True(t, system[0].CacheEphemeral)
}

func TestBuildAppendsFileManifestWhenArtifactsPending(t *testing.T) {
	breaker := cache.NewBreaker(cache.New(), 5, time.Minute)
	artifacts := execartifact.New(breaker, time.Minute)
	artifacts.Create("t1", []byte("data"), execartifact.Metadata{Filename: "out.csv", Context: "analysis output"})

	b := New(Config{MaxHistoryMessages: 10}, artifacts, charsEstimate)
	_, system := b.Build(Input{SystemPrompt: "sys", Thread: &store.Thread{ID: "t1"}})

	require.Len(t, system, 2)
	assert.Contains(t, system[1].Text, "out.csv")
	assert.False(t, system[1].CacheEphemeral)
}

func TestBuildOmitsFileManifestWhenNothingPending(t *testing.T) {
	b := newBuilder(Config{MaxHistoryMessages: 10})
	_, system := b.Build(Input{SystemPrompt: "sys", Thread: &store.Thread{ID: "t1"}})
	assert.Len(t, system, 1)
}

func TestBuildTranslatesRolesAndText(t *testing.T) {
	b := newBuilder(Config{MaxHistoryMessages: 10})
	history := []store.Message{
		{Role: store.RoleUser, Text: "hi"},
		{Role: store.RoleAssistant, Text: "hello"},
	}

	messages, _ := b.Build(Input{SystemPrompt: "sys", Thread: &store.Thread{ID: "t1"}, History: history})
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "hi", messages[0].Content[0].Text)
	assert.Equal(t, "assistant", messages[1].Role)
}

func TestLimitMessagesKeepsOnlyTrailingN(t *testing.T) {
	msgs := []store.Message{{Text: "1"}, {Text: "2"}, {Text: "3"}, {Text: "4"}}
	limited := limitMessages(msgs, 2)
	require.Len(t, limited, 2)
	assert.Equal(t, "3", limited[0].Text)
	assert.Equal(t, "4", limited[1].Text)
}

func TestLimitMessagesNoOpWhenUnderCap(t *testing.T) {
	msgs := []store.Message{{Text: "1"}, {Text: "2"}}
	assert.Equal(t, msgs, limitMessages(msgs, 10))
}

func TestTrimToBudgetDropsOldestMessagesFirst(t *testing.T) {
	b := newBuilder(Config{ContextWindow: 10, HistoryShare: 1.0})
	msgs := []store.Message{
		{Text: "aaaaa"}, // 5 chars
		{Text: "bbbbb"}, // 5 chars
		{Text: "ccccc"}, // 5 chars
	}
	// budget = 10 chars; total starts at 15, drop oldest until it fits.
	trimmed := b.trimToBudget(msgs)
	assert.Equal(t, []store.Message{{Text: "bbbbb"}, {Text: "ccccc"}}, trimmed)
}

func TestTrimToBudgetNoopWhenContextWindowUnset(t *testing.T) {
	b := newBuilder(Config{})
	msgs := []store.Message{{Text: "aaaaa"}, {Text: "bbbbb"}}
	assert.Equal(t, msgs, b.trimToBudget(msgs))
}
