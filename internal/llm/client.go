package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client streams turns against the Anthropic Messages API. It replaces a
// hand-rolled SSE scanner (internal/providers/anthropic_stream.go in the
// original tree) with the official SDK's stream accumulator, since the
// gateway's event taxonomy is the Messages streaming contract verbatim.
type Client struct {
	sdk *anthropic.Client
}

func New(apiKey, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := anthropic.NewClient(opts...)
	return &Client{sdk: &c}
}

// SDK exposes the underlying Anthropic SDK client so other components
// (filestore's Files API calls) can share one authenticated client instead
// of each opening their own.
func (c *Client) SDK() *anthropic.Client {
	return c.sdk
}

// Stream opens one turn and invokes onEvent for each streamed Event in
// order, honoring cancel (checked between events, so a cancelled generation
// stops mid-stream rather than running to completion). It
// returns once message_stop has been delivered or ctx/cancel ends the turn.
func (c *Client) Stream(ctx context.Context, req Request, cancel <-chan struct{}, onEvent func(Event)) error {
	params := buildParams(req)

	stream := c.sdk.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	var rawContent []ContentBlock
	var thinkingSig string

	for stream.Next() {
		select {
		case <-cancel:
			return nil
		default:
		}

		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return classifyError(err)
		}

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				onEvent(Event{Kind: EventTextDelta, Text: delta.Text})
			case anthropic.ThinkingDelta:
				onEvent(Event{Kind: EventThinkingDelta, ThinkingText: delta.Thinking})
			case anthropic.SignatureDelta:
				thinkingSig = delta.Signature
				onEvent(Event{Kind: EventSignatureDelta, SignatureBytes: []byte(delta.Signature)})
			}

		case anthropic.MessageStopEvent:
			// handled after the loop via message.StopReason/Usage
		}

		_ = thinkingSig
	}
	if err := stream.Err(); err != nil {
		return classifyError(err)
	}

	for _, block := range message.Content {
		rawContent = append(rawContent, fromSDKBlock(block))
		if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			var input map[string]any
			if raw, err := tu.Input.MarshalJSON(); err == nil {
				_ = json.Unmarshal(raw, &input)
			}
			onEvent(Event{Kind: EventToolUse, ToolUse: &ToolUse{ID: tu.ID, Name: tu.Name, Input: input}})
		}
	}

	onEvent(Event{
		Kind:       EventMessageStop,
		StopReason: mapStopReason(string(message.StopReason)),
		Usage: Usage{
			InputTokens:      message.Usage.InputTokens,
			OutputTokens:     message.Usage.OutputTokens,
			CacheReadTokens:  message.Usage.CacheReadInputTokens,
			CacheWriteTokens: message.Usage.CacheCreationInputTokens,
		},
		AssistantContent: rawContent,
	})
	return nil
}

func fromSDKBlock(block anthropic.ContentBlockUnion) ContentBlock {
	switch v := block.AsAny().(type) {
	case anthropic.TextBlock:
		return ContentBlock{Type: "text", Text: v.Text}
	case anthropic.ThinkingBlock:
		return ContentBlock{Type: "thinking", ThinkingText: v.Thinking, ThinkingSignature: v.Signature}
	case anthropic.ToolUseBlock:
		var input map[string]any
		if raw, err := v.Input.MarshalJSON(); err == nil {
			_ = json.Unmarshal(raw, &input)
		}
		return ContentBlock{Type: "tool_use", ToolUseID: v.ID, ToolName: v.Name, ToolInput: input}
	default:
		return ContentBlock{Type: "unknown"}
	}
}

func mapStopReason(raw string) StopReason {
	switch raw {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "end_turn", "stop_sequence":
		return StopEndTurn
	case "refusal":
		return StopRefusal
	default:
		return StopEndTurn
	}
}

func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return &Error{Kind: ErrRateLimited, Err: err, RetryAfter: retryAfter(apiErr)}
		case 400:
			if apiErr.Type == "invalid_request_error" {
				return &Error{Kind: ErrInvalidModel, Err: err}
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Err: err}
	}
	return &Error{Kind: ErrConnection, Err: err}
}

func retryAfter(apiErr *anthropic.Error) time.Duration {
	if v := apiErr.Response.Header.Get("retry-after"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return 2 * time.Second
}

func buildParams(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxOutputTokens),
	}
	for _, sb := range req.System {
		block := anthropic.TextBlockParam{Text: sb.Text}
		if sb.CacheEphemeral {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = append(params.System, block)
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, toSDKMessage(m))
	}
	for _, t := range req.Tools {
		if t.ServerSide {
			continue // server-side tools are requested via their own typed param, not ToolParam
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParamOfTool(
			anthropic.ToolInputSchemaParam{Properties: t.InputSchema},
			t.Name,
		))
	}
	if req.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}
	return params
}

func toSDKMessage(m Message) anthropic.MessageParam {
	role := anthropic.MessageParamRoleUser
	if m.Role == "assistant" {
		role = anthropic.MessageParamRoleAssistant
	}
	var blocks []anthropic.ContentBlockParamUnion
	for _, b := range m.Content {
		switch b.Type {
		case "text":
			blocks = append(blocks, anthropic.NewTextBlock(b.Text))
		case "thinking":
			blocks = append(blocks, anthropic.NewThinkingBlock(b.ThinkingSignature, b.ThinkingText))
		case "tool_use":
			blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUseID, b.ToolInput, b.ToolName))
		case "tool_result":
			blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolResultForID, b.ToolResultText, b.ToolResultIsErr))
		case "image":
			blocks = append(blocks, anthropic.NewImageBlock(anthropic.Base64ImageSourceParam{MediaType: anthropic.Base64ImageSourceMediaType(b.MediaType)}))
		}
	}
	return anthropic.MessageParam{Role: role, Content: blocks}
}
