package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LatexConfig points at an external LaTeX-to-image rendering endpoint. No
// example repo carries a native LaTeX rendering library, so this follows
// the same external-HTTP-API idiom used elsewhere for generate_image and
// web_fetch (net/http.Client against a configured base URL) rather than
// reaching for an unverified dependency.
type LatexConfig struct {
	RenderURL string
	APIKey    string
}

func NewRenderLatexTool(cfg LatexConfig) *Tool {
	return &Tool{
		Name:        "render_latex",
		Description: "Render a LaTeX expression or document to a PNG image.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"latex": map[string]any{"type": "string", "description": "LaTeX source to render."},
			},
			"required": []string{"latex"},
		},
		Executor: func(ctx context.Context, args map[string]any) *Result {
			if cfg.RenderURL == "" {
				return ErrorResult("LaTeX rendering is not configured")
			}
			latex, _ := args["latex"].(string)
			if strings.TrimSpace(latex) == "" {
				return ErrorResult("latex is required")
			}

			data, err := renderLatex(ctx, cfg, latex)
			if err != nil {
				return ErrorResult("LaTeX render failed: %v", err)
			}

			r := NewResult("Rendered LaTeX to image.")
			r.OutputFiles = []FileBlob{{
				Filename: "formula.png",
				Mime:     "image/png",
				Data:     data,
				Context:  latex,
			}}
			return r
		},
	}
}

func renderLatex(ctx context.Context, cfg LatexConfig, latex string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"latex": latex, "format": "png"})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cfg.RenderURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render service returned %d", resp.StatusCode)
	}
	return data, nil
}
