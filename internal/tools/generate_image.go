package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ImageGenConfig points at one OpenAI-compatible image generation endpoint.
// Grounded on the original tree's CreateImageTool
// (internal/tools/create_image.go), which called the same chat-completions-
// with-modalities shape against OpenRouter/OpenAI; that tool picked a
// provider from a per-agent registry, but this gateway has a single
// configured image model, so the provider-selection layer is dropped.
type ImageGenConfig struct {
	APIBase string
	APIKey  string
	Model   string

	// PriceUSD is the fixed per-image charge (billed per image per
	// spec's image generation service description). Defaults to 0.134.
	PriceUSD float64
}

func NewGenerateImageTool(cfg ImageGenConfig) *Tool {
	if cfg.PriceUSD <= 0 {
		cfg.PriceUSD = 0.134
	}

	return &Tool{
		Name:        "generate_image",
		Description: "Generate an image from a text description. Returns the image as an immediate-delivery file.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt":       map[string]any{"type": "string", "description": "Description of the image to generate."},
				"aspect_ratio": map[string]any{"type": "string", "description": "'1:1' (default), '3:4', '4:3', '9:16', or '16:9'."},
			},
			"required": []string{"prompt"},
		},
		IsPaid:        true,
		EstimatedCost: func(map[string]any) float64 { return cfg.PriceUSD },
		Executor: func(ctx context.Context, args map[string]any) *Result {
			prompt, _ := args["prompt"].(string)
			if prompt == "" {
				return ErrorResult("prompt is required")
			}
			aspectRatio, _ := args["aspect_ratio"].(string)
			if aspectRatio == "" {
				aspectRatio = "1:1"
			}

			data, err := callImageGenAPI(ctx, cfg, prompt, aspectRatio)
			if err != nil {
				return ErrorResult("image generation failed: %v", err)
			}

			r := NewResult(fmt.Sprintf("Generated image for: %q", prompt))
			r.FileContents = []FileBlob{{
				Filename: "generated.png",
				Mime:     "image/png",
				Data:     data,
				Context:  prompt,
			}}
			r.CostUSD = cfg.PriceUSD
			return r
		},
	}
}

func callImageGenAPI(ctx context.Context, cfg ImageGenConfig, prompt, aspectRatio string) ([]byte, error) {
	body := map[string]any{
		"model":      cfg.Model,
		"messages":   []map[string]any{{"role": "user", "content": prompt}},
		"modalities": []string{"image", "text"},
	}
	if aspectRatio != "" && aspectRatio != "1:1" {
		body["image_config"] = map[string]any{"aspect_ratio": aspectRatio}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(cfg.APIBase, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, truncate(respBody, 500))
	}
	return parseImageResponse(respBody)
}

func parseImageResponse(respBody []byte) ([]byte, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
				Images  []struct {
					ImageURL struct {
						URL string `json:"url"`
					} `json:"image_url"`
				} `json:"images"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	for _, img := range resp.Choices[0].Message.Images {
		if data, err := decodeDataURL(img.ImageURL.URL); err == nil {
			return data, nil
		}
	}
	if parts, ok := resp.Choices[0].Message.Content.([]any); ok {
		for _, part := range parts {
			m, ok := part.(map[string]any)
			if !ok || m["type"] != "image_url" {
				continue
			}
			imgURL, ok := m["image_url"].(map[string]any)
			if !ok {
				continue
			}
			url, _ := imgURL["url"].(string)
			if data, err := decodeDataURL(url); err == nil {
				return data, nil
			}
		}
	}
	return nil, fmt.Errorf("no image data found in response")
}

func decodeDataURL(dataURL string) ([]byte, error) {
	idx := strings.Index(dataURL, ";base64,")
	if idx < 0 {
		return nil, fmt.Errorf("not a base64 data URL")
	}
	return base64.StdEncoding.DecodeString(dataURL[idx+8:])
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
