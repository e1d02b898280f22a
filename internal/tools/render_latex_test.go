package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderLatexToolRequiresConfiguredEndpoint(t *testing.T) {
	tool := NewRenderLatexTool(LatexConfig{})
	res := tool.Executor(context.Background(), map[string]any{"latex": "x^2"})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "not configured")
}

func TestRenderLatexToolRequiresNonEmptyLatex(t *testing.T) {
	tool := NewRenderLatexTool(LatexConfig{RenderURL: "http://example.invalid"})
	res := tool.Executor(context.Background(), map[string]any{"latex": "   "})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "latex is required")
}

func TestRenderLatexToolReturnsRenderedPNGOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte("fake-png-bytes"))
	}))
	defer srv.Close()

	tool := NewRenderLatexTool(LatexConfig{RenderURL: srv.URL, APIKey: "secret"})
	res := tool.Executor(context.Background(), map[string]any{"latex": "x^2"})

	require.False(t, res.IsError)
	require.Len(t, res.OutputFiles, 1)
	assert.Equal(t, "formula.png", res.OutputFiles[0].Filename)
	assert.Equal(t, []byte("fake-png-bytes"), res.OutputFiles[0].Data)
	assert.Equal(t, "x^2", res.OutputFiles[0].Context)
}

func TestRenderLatexToolReportsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tool := NewRenderLatexTool(LatexConfig{RenderURL: srv.URL})
	res := tool.Executor(context.Background(), map[string]any{"latex": "x^2"})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "render failed")
}
