// Package llm is the streaming LLM provider client: a single operation that
// yields a typed event stream over text/thinking/tool-use deltas, plus a
// synchronous token counter and the per-turn cost formula.
package llm

import "time"

// Message is one entry in a thread's history, shaped for the Anthropic
// Messages API (role + content blocks).
type Message struct {
	Role    string // "user" or "assistant"
	Content []ContentBlock
}

// ContentBlock is a tagged union over the block kinds the gateway moves
// between turns: text, a thinking block (with its signature preserved for
// verbatim echo), a tool_use request, or a tool_result.
type ContentBlock struct {
	Type string // "text", "thinking", "tool_use", "tool_result", "image", "document"

	Text string

	ThinkingText     string
	ThinkingSignature string

	ToolUseID   string
	ToolName    string
	ToolInput   map[string]any

	ToolResultForID string
	ToolResultText  string
	ToolResultIsErr bool

	// image/document blocks reference an already-uploaded provider file.
	ProviderFileID string
	MediaType      string
}

// ToolDefinition is a client-side or server-side tool schema exposed to the
// model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
	ServerSide  bool // true for web_search/web_fetch: the provider executes these itself
}

// Request is one streaming turn.
type Request struct {
	Model            string
	System           []SystemBlock
	Messages         []Message
	Tools            []ToolDefinition
	MaxOutputTokens  int
	ThinkingBudget    int // 0 disables extended thinking
	Effort           string // "" | "low" | "medium" | "high" — only for models that support it
}

// SystemBlock is one system-prompt section, optionally cache-controlled.
type SystemBlock struct {
	Text           string
	CacheEphemeral bool
}

// EventKind tags a streamed Event.
type EventKind string

const (
	EventTextDelta      EventKind = "text_delta"
	EventThinkingDelta  EventKind = "thinking_delta"
	EventSignatureDelta EventKind = "signature_delta"
	EventToolUse        EventKind = "tool_use"
	EventMessageStop    EventKind = "message_stop"
)

// StopReason enumerates message_stop's terminal reason.
type StopReason string

const (
	StopEndTurn               StopReason = "end_turn"
	StopMaxTokens             StopReason = "max_tokens"
	StopToolUse               StopReason = "tool_use"
	StopContextWindowExceeded StopReason = "context_window_exceeded"
	StopRefusal               StopReason = "refusal"
)

// Usage carries cumulative token counts for the turn.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	ThinkingTokens   int64
}

// ToolUse is a staged tool call request from the model.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// Event is one item in the stream.
type Event struct {
	Kind EventKind

	Text              string
	ThinkingText      string
	SignatureBytes    []byte
	ToolUse           *ToolUse
	StopReason        StopReason
	Usage             Usage
	AssistantContent  []ContentBlock // full reconstructed assistant turn, set on message_stop
}

// ErrorKind enumerates the client's error taxonomy.
type ErrorKind string

const (
	ErrRateLimited             ErrorKind = "rate_limited"
	ErrConnection              ErrorKind = "connection_error"
	ErrTimeout                 ErrorKind = "timeout"
	ErrContextWindowExceeded   ErrorKind = "context_window_exceeded"
	ErrInvalidModel            ErrorKind = "invalid_model"
	ErrRefusal                 ErrorKind = "refusal"
)

// Error is the client's typed error, carrying an optional retry-after for
// transient kinds.
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// ModelPricing is the per-model pricing entry the cost formula reads from.
type ModelPricing struct {
	InputPerMToken      float64 // USD per 1M input tokens
	OutputPerMToken     float64 // USD per 1M output tokens
	ContextWindow       int
	MaxOutputTokens     int
	SupportsThinking    bool
	SupportsEffort      bool
	SupportsInterleavedThinking bool
}

// TurnCost computes the exact per-turn cost formula:
// cost = input*p_in + output*p_out + cache_read*p_in*0.1 + cache_write*p_in*1.25 + thinking*p_out
func TurnCost(u Usage, p ModelPricing) float64 {
	pIn := p.InputPerMToken / 1_000_000
	pOut := p.OutputPerMToken / 1_000_000
	return float64(u.InputTokens)*pIn +
		float64(u.OutputTokens)*pOut +
		float64(u.CacheReadTokens)*pIn*0.1 +
		float64(u.CacheWriteTokens)*pIn*1.25 +
		float64(u.ThinkingTokens)*pOut
}
