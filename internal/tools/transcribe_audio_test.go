package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/tollgate/internal/cache"
	"github.com/nextlevelbuilder/tollgate/internal/filestore"
)

func TestTranscribeAudioToolRequiresConfiguredEndpoint(t *testing.T) {
	tool := NewTranscribeAudioTool(nil, TranscribeConfig{})
	res := tool.Executor(context.Background(), map[string]any{"file_id": "f1"})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "not configured")
}

func TestTranscribeAudioToolRequiresFileID(t *testing.T) {
	tool := NewTranscribeAudioTool(nil, TranscribeConfig{ProxyURL: "http://example.invalid"})
	res := tool.Executor(context.Background(), map[string]any{})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "file_id is required")
}

func TestTranscribeReturnsTranscriptOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe_audio", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"transcript":"hello world"}`))
	}))
	defer srv.Close()

	transcript, err := Transcribe(context.Background(), TranscribeConfig{ProxyURL: srv.URL, APIKey: "key"}, "voice.ogg", []byte("audio bytes"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", transcript)
}

func TestTranscribeAudioToolChargesPerMinute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transcript":"hi","duration_seconds":30}`))
	}))
	defer srv.Close()

	breaker := cache.NewBreaker(cache.New(), 5, time.Minute)
	breaker.Set(cache.FileBytesKey("f1"), []byte("audio bytes"), time.Minute)
	files := filestore.New(nil, breaker, time.Minute)

	tool := NewTranscribeAudioTool(files, TranscribeConfig{ProxyURL: srv.URL, PricePerMinuteUSD: 0.006})
	res := tool.Executor(context.Background(), map[string]any{"file_id": "f1"})

	require.False(t, res.IsError)
	assert.Equal(t, "hi", res.ForLLM)
	assert.InDelta(t, 0.003, res.CostUSD, 1e-9)
	assert.True(t, tool.IsPaid)
}

func TestTranscribePropagatesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	_, err := Transcribe(context.Background(), TranscribeConfig{ProxyURL: srv.URL}, "voice.ogg", []byte("audio"))
	assert.Error(t, err)
}
