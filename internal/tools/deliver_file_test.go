package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/tollgate/internal/cache"
	"github.com/nextlevelbuilder/tollgate/internal/execartifact"
)

func TestDeliverFileToolRequiresTempID(t *testing.T) {
	artifacts := execartifact.New(cache.NewBreaker(cache.New(), 5, time.Minute), time.Minute)
	tool := NewDeliverFileTool(artifacts)

	res := tool.Executor(context.Background(), map[string]any{})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "temp_id is required")
}

func TestDeliverFileToolDeliversPendingArtifact(t *testing.T) {
	artifacts := execartifact.New(cache.NewBreaker(cache.New(), 5, time.Minute), time.Minute)
	ctx := WithThreadID(context.Background(), "thread-1")

	art := artifacts.Create("thread-1", []byte("file bytes"), execartifact.Metadata{Filename: "out.csv", Mime: "text/csv"})
	tool := NewDeliverFileTool(artifacts)

	res := tool.Executor(ctx, map[string]any{"temp_id": art.TempID})
	require.False(t, res.IsError)
	require.Len(t, res.FileContents, 1)
	assert.Equal(t, "out.csv", res.FileContents[0].Filename)
	assert.Equal(t, []byte("file bytes"), res.FileContents[0].Data)
	assert.False(t, res.ForceTurnBreak)
}

func TestDeliverFileToolSequentialSetsForceTurnBreak(t *testing.T) {
	artifacts := execartifact.New(cache.NewBreaker(cache.New(), 5, time.Minute), time.Minute)
	ctx := WithThreadID(context.Background(), "thread-1")
	art := artifacts.Create("thread-1", []byte("data"), execartifact.Metadata{Filename: "a.txt"})

	tool := NewDeliverFileTool(artifacts)
	res := tool.Executor(ctx, map[string]any{"temp_id": art.TempID, "sequential": true})
	require.False(t, res.IsError)
	assert.True(t, res.ForceTurnBreak)
}

func TestDeliverFileToolUnknownIDErrors(t *testing.T) {
	artifacts := execartifact.New(cache.NewBreaker(cache.New(), 5, time.Minute), time.Minute)
	tool := NewDeliverFileTool(artifacts)

	res := tool.Executor(context.Background(), map[string]any{"temp_id": "missing"})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "no pending artifact")
}

func TestDeliverFileToolCannotDeliverTwice(t *testing.T) {
	artifacts := execartifact.New(cache.NewBreaker(cache.New(), 5, time.Minute), time.Minute)
	ctx := WithThreadID(context.Background(), "thread-1")
	art := artifacts.Create("thread-1", []byte("data"), execartifact.Metadata{Filename: "a.txt"})

	tool := NewDeliverFileTool(artifacts)
	first := tool.Executor(ctx, map[string]any{"temp_id": art.TempID})
	require.False(t, first.IsError)

	second := tool.Executor(ctx, map[string]any{"temp_id": art.TempID})
	assert.True(t, second.IsError)
}
