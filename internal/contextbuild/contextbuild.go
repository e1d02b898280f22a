// Package contextbuild assembles the message list and system prompt for one
// LLM turn: system prompt + file manifest, trimmed history, cache-control
// breakpoints. Its history trimming is grounded on internal/agent/loop_history.go's limitHistoryTurns/
// sanitizeHistory, generalized from a single-session chat model to
// per-thread history drawn from the durable store.
package contextbuild

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/tollgate/internal/execartifact"
	"github.com/nextlevelbuilder/tollgate/internal/llm"
	"github.com/nextlevelbuilder/tollgate/internal/store"
)

// Config tunes assembly: how much history survives trimming and where cache
// breakpoints land.
type Config struct {
	MaxHistoryMessages int // hard cap on trailing messages kept, by count
	ContextWindow      int // model context window, in tokens
	HistoryShare       float64 // fraction of ContextWindow the trimmed history may occupy
}

// Builder turns a thread's stored history plus live artifacts into an
// llm.Request's Messages/System fields.
type Builder struct {
	cfg       Config
	artifacts *execartifact.Store
	estimate  func(string) int // token estimator, injected so contextbuild doesn't import llm's tokenizer directly
}

func New(cfg Config, artifacts *execartifact.Store, estimate func(string) int) *Builder {
	return &Builder{cfg: cfg, artifacts: artifacts, estimate: estimate}
}

// Input is everything the builder needs for one turn.
type Input struct {
	SystemPrompt string
	Thread       *store.Thread
	History      []store.Message
	PendingUser  store.Message // the message that triggered this turn, already appended to History
}

// Build produces the ordered Messages and System blocks for an llm.Request.
// The system prompt's static prefix is marked cache_control:ephemeral so the
// provider can reuse the prefix cache across turns in the same thread;
// per-turn content (the file manifest) is appended uncached after it.
func (b *Builder) Build(in Input) ([]llm.Message, []llm.SystemBlock) {
	system := []llm.SystemBlock{
		{Text: in.SystemPrompt, CacheEphemeral: true},
	}
	if manifest := b.fileManifest(in.Thread.ID); manifest != "" {
		system = append(system, llm.SystemBlock{Text: manifest})
	}

	trimmed := limitMessages(in.History, b.cfg.MaxHistoryMessages)
	trimmed = b.trimToBudget(trimmed)

	messages := make([]llm.Message, 0, len(trimmed))
	for _, m := range trimmed {
		messages = append(messages, toLLMMessage(m))
	}
	return messages, system
}

// fileManifest lists pending ExecArtifacts so the model knows what it has
// already produced and can reference or deliver them without re-generating.
func (b *Builder) fileManifest(threadID string) string {
	pending := b.artifacts.Pending(threadID)
	if len(pending) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Files available from earlier tool calls in this thread:\n")
	for _, id := range pending {
		a, ok := b.artifacts.Get(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", a.TempID, a.Metadata.Filename, a.Metadata.Context)
	}
	return sb.String()
}

// limitMessages keeps only the last N messages; it cuts by count alone and
// does not adjust the boundary by message role.
func limitMessages(msgs []store.Message, n int) []store.Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// trimToBudget drops oldest messages until the estimated token count fits
// within ContextWindow*HistoryShare.
func (b *Builder) trimToBudget(msgs []store.Message) []store.Message {
	if b.cfg.ContextWindow <= 0 || b.estimate == nil {
		return msgs
	}
	budget := int(float64(b.cfg.ContextWindow) * b.cfg.HistoryShare)
	total := 0
	for _, m := range msgs {
		total += b.estimate(m.Text)
	}
	start := 0
	for total > budget && start < len(msgs)-1 {
		total -= b.estimate(msgs[start].Text)
		start++
	}
	return msgs[start:]
}

func toLLMMessage(m store.Message) llm.Message {
	role := "user"
	if m.Role == store.RoleAssistant {
		role = "assistant"
	}
	return llm.Message{
		Role:    role,
		Content: []llm.ContentBlock{{Type: "text", Text: m.Text}},
	}
}
