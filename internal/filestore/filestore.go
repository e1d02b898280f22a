// Package filestore uploads/downloads/deletes file bytes against the LLM
// provider's file service and caches hot bytes locally.
package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/nextlevelbuilder/tollgate/internal/cache"
)

// Store wraps the provider's Files API with a cache-first bytes fast path.
type Store struct {
	client  *anthropic.Client
	breaker *cache.Breaker
	ttl     time.Duration
}

func New(client *anthropic.Client, breaker *cache.Breaker, bytesCacheTTL time.Duration) *Store {
	return &Store{client: client, breaker: breaker, ttl: bytesCacheTTL}
}

// Upload stores bytes with the provider and returns its file id.
func (s *Store) Upload(ctx context.Context, filename, mime string, data []byte) (providerFileID string, err error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("upload file %q: no file service client configured", filename)
	}
	f, err := s.client.Beta.Files.Upload(ctx, anthropic.BetaFileUploadParams{
		File: anthropic.File(bytes.NewReader(data), filename, mime),
	}, []anthropic.AnthropicBeta{anthropic.AnthropicBetaFilesAPI20250414})
	if err != nil {
		return "", fmt.Errorf("upload file %q: %w", filename, err)
	}
	s.breaker.Set(cache.FileBytesKey(f.ID), data, s.ttl)
	return f.ID, nil
}

// Download returns a file's bytes, checking the cache before hitting the
// provider.
func (s *Store) Download(ctx context.Context, providerFileID string) ([]byte, error) {
	if v, ok := s.breaker.Get(cache.FileBytesKey(providerFileID)); ok {
		if data, ok := v.([]byte); ok {
			return data, nil
		}
	}

	rc, err := s.client.Beta.Files.Download(ctx, providerFileID, anthropic.BetaFileDownloadParams{}, []anthropic.AnthropicBeta{anthropic.AnthropicBetaFilesAPI20250414})
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", providerFileID, err)
	}
	defer rc.Body.Close()

	data, err := io.ReadAll(rc.Body)
	if err != nil {
		return nil, fmt.Errorf("read downloaded file %s: %w", providerFileID, err)
	}
	s.breaker.Set(cache.FileBytesKey(providerFileID), data, s.ttl)
	return data, nil
}

// Delete removes a file from the provider and evicts its cached bytes.
func (s *Store) Delete(ctx context.Context, providerFileID string) error {
	s.breaker.Delete(cache.FileBytesKey(providerFileID))
	_, err := s.client.Beta.Files.Delete(ctx, providerFileID, anthropic.BetaFileDeleteParams{}, []anthropic.AnthropicBeta{anthropic.AnthropicBetaFilesAPI20250414})
	if err != nil {
		return fmt.Errorf("delete file %s: %w", providerFileID, err)
	}
	return nil
}
