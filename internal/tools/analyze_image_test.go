package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/tollgate/internal/llm"
)

func TestAnalyzeImageToolRequiresFileID(t *testing.T) {
	tool := NewAnalyzeImageTool(nil, nil, "claude-sonnet-4-5", llm.ModelPricing{})
	res := tool.Executor(context.Background(), map[string]any{"prompt": "what is this"})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "file_id is required")
}

func TestAnalyzeImageToolIsPaid(t *testing.T) {
	tool := NewAnalyzeImageTool(nil, nil, "claude-sonnet-4-5", llm.ModelPricing{})
	assert.True(t, tool.IsPaid)
}

func TestDetectImageMimeRecognizesPNGSignature(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00}
	assert.Equal(t, "image/png", detectImageMime(png))
}

func TestDetectImageMimeRecognizesJPEGSignature(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	assert.Equal(t, "image/jpeg", detectImageMime(jpeg))
}

func TestDetectImageMimeDefaultsToPNGForUnknownBytes(t *testing.T) {
	assert.Equal(t, "image/png", detectImageMime([]byte{0x00, 0x01}))
}
