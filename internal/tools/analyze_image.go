package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/tollgate/internal/filestore"
	"github.com/nextlevelbuilder/tollgate/internal/llm"
)

// NewAnalyzeImageTool is grounded on the original tree's ReadImageTool
// (internal/tools/read_image.go): a vision call over an already-attached
// image, simplified from a multi-provider registry lookup down to the
// single configured llm.Client this gateway runs against. analyze_image
// never fetches from a URL — the model is pointed at web_fetch for that.
// It is paid: the vision call it makes spends real tokens against pricing,
// so its cost is computed post-hoc from the sub-call's own usage, the same
// way self_critique prices its subordinate session.
func NewAnalyzeImageTool(client *llm.Client, files *filestore.Store, model string, pricing llm.ModelPricing) *Tool {
	return &Tool{
		Name:        "analyze_image",
		Description: "Analyze a previously uploaded image using a vision-capable model. Requires the image's file id from an earlier upload; does not fetch arbitrary URLs.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_id": map[string]any{"type": "string", "description": "Provider file id of the image to analyze."},
				"prompt":  map[string]any{"type": "string", "description": "What to look for or ask about the image."},
			},
			"required": []string{"file_id", "prompt"},
		},
		IsPaid: true,
		Executor: func(ctx context.Context, args map[string]any) *Result {
			fileID, _ := args["file_id"].(string)
			prompt, _ := args["prompt"].(string)
			if fileID == "" {
				return ErrorResult("file_id is required")
			}
			if prompt == "" {
				prompt = "Describe this image in detail."
			}

			data, err := files.Download(ctx, fileID)
			if err != nil {
				return ErrorResult("could not load image %s: %v", fileID, err)
			}

			var out string
			var usage llm.Usage
			err = client.Stream(ctx, llm.Request{
				Model:           model,
				MaxOutputTokens: 1024,
				Messages: []llm.Message{{
					Role: "user",
					Content: []llm.ContentBlock{
						{Type: "text", Text: prompt},
						{Type: "image", ProviderFileID: fileID, MediaType: detectImageMime(data)},
					},
				}},
			}, nil, func(ev llm.Event) {
				switch ev.Kind {
				case llm.EventTextDelta:
					out += ev.Text
				case llm.EventMessageStop:
					usage.InputTokens += ev.Usage.InputTokens
					usage.OutputTokens += ev.Usage.OutputTokens
					usage.CacheReadTokens += ev.Usage.CacheReadTokens
					usage.CacheWriteTokens += ev.Usage.CacheWriteTokens
				}
			})
			if err != nil {
				return ErrorResult("vision call failed: %v", err)
			}
			r := NewResult(out)
			r.CostUSD = llm.TurnCost(usage, pricing)
			return r
		},
	}
}

func detectImageMime(data []byte) string {
	if len(data) > 8 && data[0] == 0x89 && data[1] == 'P' {
		return "image/png"
	}
	if len(data) > 3 && data[0] == 0xFF && data[1] == 0xD8 {
		return "image/jpeg"
	}
	return "image/png"
}
