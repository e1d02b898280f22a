package filestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/tollgate/internal/cache"
)

// Upload/Download's provider round trip needs a live Anthropic Files API
// client, so only the cache-first fast paths (reachable without ever
// dereferencing the nil *anthropic.Client in these tests) are covered here.

func TestDownloadServesFromCacheWithoutTouchingProvider(t *testing.T) {
	breaker := cache.NewBreaker(cache.New(), 5, time.Minute)
	breaker.Set(cache.FileBytesKey("file-1"), []byte("cached bytes"), time.Minute)

	s := New(nil, breaker, time.Minute)
	data, err := s.Download(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("cached bytes"), data)
}
