package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/tollgate/internal/balance"
	"github.com/nextlevelbuilder/tollgate/internal/llm"
)

// SelfCritiqueConfig fixes the subordinate model and minimum balance this
// tool requires: it launches a subordinate LLM session with a fixed
// premium model and an adversarial system prompt, and requires a minimum
// user balance to start.
type SelfCritiqueConfig struct {
	Model              string
	SystemPrompt       string
	MinBalanceMicros   int64
	Pricing            llm.ModelPricing
	MaxCritiqueTurns   int
}

// Verdict is self_critique's structured output.
type Verdict struct {
	Verdict         string   `json:"verdict"` // PASS, FAIL, NEEDS_IMPROVEMENT
	AlignmentScore  int      `json:"alignment_score"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
	CostUSD         float64  `json:"cost_usd"`
}

const defaultAdversarialPrompt = `You are an adversarial reviewer. Given a claimed piece of work and its
stated goal, find every way it falls short. Be skeptical by default. When
you are done, respond with nothing but a JSON object:
{"verdict": "PASS"|"FAIL"|"NEEDS_IMPROVEMENT", "alignment_score": 0-100,
 "issues": [...], "recommendations": [...]}`

// NewSelfCritiqueTool takes the reduced tool subset (execute_python,
// preview_file, analyze_image, analyze_pdf) whose definitions are offered
// to the subordinate session. Tool calls the reviewer makes are not
// executed; see runCritique.
func NewSelfCritiqueTool(client *llm.Client, gate *balance.Gate, reducedTools []llm.ToolDefinition, cfg SelfCritiqueConfig) *Tool {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultAdversarialPrompt
	}
	if cfg.MaxCritiqueTurns <= 0 {
		cfg.MaxCritiqueTurns = 4
	}

	return &Tool{
		Name:        "self_critique",
		Description: "Run an adversarial self-review of work produced earlier in this conversation and return a structured verdict.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"goal":        map[string]any{"type": "string", "description": "What the work was supposed to accomplish."},
				"work_summary": map[string]any{"type": "string", "description": "A description of the work to be reviewed, including any relevant file ids."},
			},
			"required": []string{"goal", "work_summary"},
		},
		IsPaid: true,
		Executor: func(ctx context.Context, args map[string]any) *Result {
			userID := userIDFromCtx(ctx)
			if userID != "" {
				if err := gate.CheckMinimum(ctx, userID, cfg.MinBalanceMicros); err != nil {
					return ErrorResult("self_critique requires a minimum balance: %v", err)
				}
			}

			goal, _ := args["goal"].(string)
			summary, _ := args["work_summary"].(string)

			verdict, usage, err := runCritique(ctx, client, cfg, reducedTools, goal, summary)
			if err != nil {
				return ErrorResult("self_critique failed: %v", err)
			}
			verdict.CostUSD = llm.TurnCost(usage, cfg.Pricing)

			payload, _ := json.Marshal(verdict)
			r := NewResult(string(payload))
			r.CostUSD = verdict.CostUSD
			return r
		},
	}
}

func runCritique(ctx context.Context, client *llm.Client, cfg SelfCritiqueConfig, reducedTools []llm.ToolDefinition, goal, summary string) (*Verdict, llm.Usage, error) {
	messages := []llm.Message{{
		Role: "user",
		Content: []llm.ContentBlock{{
			Type: "text",
			Text: fmt.Sprintf("Goal:\n%s\n\nWork to review:\n%s", goal, summary),
		}},
	}}

	var usage llm.Usage
	var finalText string

	for i := 0; i < cfg.MaxCritiqueTurns; i++ {
		var text string
		var stopReason llm.StopReason
		var toolUses []llm.ToolUse

		err := client.Stream(ctx, llm.Request{
			Model:           cfg.Model,
			System:          []llm.SystemBlock{{Text: cfg.SystemPrompt}},
			Messages:        messages,
			Tools:           reducedTools,
			MaxOutputTokens: 2048,
		}, nil, func(ev llm.Event) {
			switch ev.Kind {
			case llm.EventTextDelta:
				text += ev.Text
			case llm.EventToolUse:
				if ev.ToolUse != nil {
					toolUses = append(toolUses, *ev.ToolUse)
				}
			case llm.EventMessageStop:
				stopReason = ev.StopReason
				usage.InputTokens += ev.Usage.InputTokens
				usage.OutputTokens += ev.Usage.OutputTokens
				usage.CacheReadTokens += ev.Usage.CacheReadTokens
				usage.CacheWriteTokens += ev.Usage.CacheWriteTokens
			}
		})
		if err != nil {
			return nil, usage, err
		}

		finalText = text
		if stopReason != llm.StopToolUse || len(toolUses) == 0 {
			break
		}
		// Requested tool calls are not run: only the reviewer's text is
		// kept, and the next turn tells it that tool results are omitted.
		messages = append(messages, llm.Message{Role: "assistant", Content: []llm.ContentBlock{{Type: "text", Text: text}}})
		messages = append(messages, llm.Message{Role: "user", Content: []llm.ContentBlock{{Type: "text", Text: "(tool results omitted in subordinate session)"}}})
	}

	var v Verdict
	if err := json.Unmarshal([]byte(extractJSONObject(finalText)), &v); err != nil {
		return &Verdict{Verdict: "NEEDS_IMPROVEMENT", Issues: []string{"reviewer did not return parseable JSON: " + finalText}}, usage, nil
	}
	return &v, usage, nil
}

func extractJSONObject(s string) string {
	start := -1
	depth := 0
	for i, r := range s {
		if r == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if r == '}' {
			depth--
			if depth == 0 && start >= 0 {
				return s[start : i+1]
			}
		}
	}
	return s
}
