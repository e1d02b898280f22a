// Package agent implements the turn orchestrator: given a batch of inbound
// messages for one thread, it runs the context-build → LLM-stream →
// tool-dispatch → charge cycle up to a hard cap of continuations.
// The tool dispatch below runs the free tool calls of one assistant turn
// concurrently (a goroutine per call, results written by index) and the
// paid ones one at a time, adding the balance and force_turn_break
// semantics billing requires.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tollgate/internal/balance"
	"github.com/nextlevelbuilder/tollgate/internal/batcher"
	"github.com/nextlevelbuilder/tollgate/internal/cache"
	"github.com/nextlevelbuilder/tollgate/internal/contextbuild"
	"github.com/nextlevelbuilder/tollgate/internal/execartifact"
	"github.com/nextlevelbuilder/tollgate/internal/filestore"
	"github.com/nextlevelbuilder/tollgate/internal/llm"
	"github.com/nextlevelbuilder/tollgate/internal/store"
	"github.com/nextlevelbuilder/tollgate/internal/stream"
	"github.com/nextlevelbuilder/tollgate/internal/tools"
	"github.com/nextlevelbuilder/tollgate/internal/writebehind"
)

// maxContinuations is the hard cap on LLM-stream iterations a single turn
// may run before the orchestrator stops asking the model to continue.
const maxContinuations = 10

// ModelConfig resolves one model key to the provider model id the LLM
// client should request, its pricing, and its capability flags.
type ModelConfig struct {
	ProviderModel string
	Pricing       llm.ModelPricing
}

// SinkFactory builds the channel-specific Sink a new turn's Draft writes to.
// Implemented once per frontend (e.g. Telegram) and supplied at wiring time.
type SinkFactory func(ctx context.Context, chatID, userID string) (stream.Sink, error)

// Orchestrator runs turns for the batcher (it IS a batcher.Handler once
// bound via HandleBatch).
type Orchestrator struct {
	Client         *llm.Client
	Tools          *tools.Registry
	ContextBuilder *contextbuild.Builder
	Streams        *stream.Manager
	Balance        *balance.Gate
	Store          store.Store
	Breaker        *cache.Breaker
	WriteBehind    *writebehind.Queue
	Artifacts      *execartifact.Store
	Files          *filestore.Store
	Sinks          SinkFactory

	Models          map[string]ModelConfig
	DefaultModel    string
	GlobalSystem    string
	DraftEditPeriod time.Duration
	CacheTTL        time.Duration
}

// stagedToolUse is one tool_use block collected while draining a stream
// iteration, staged for dispatch once message_stop arrives.
type stagedToolUse struct {
	id    string
	name  string
	input map[string]any
}

// toolOutcome is one dispatched call's result, carried alongside its
// originating call so results can be re-sorted into call order.
type toolOutcome struct {
	call   stagedToolUse
	result *tools.Result
}

// HandleBatch implements batcher.Handler. It runs the turn from context
// build through final charge; claiming the one active generation for this
// chat/user already happened in the batcher/gentrack pair before this is
// invoked.
func (o *Orchestrator) HandleBatch(batch batcher.Batch, cancel <-chan struct{}) {
	ctx := context.Background()

	// The batcher hands us an already-resolved thread id (ingress created
	// and cached it); GetThread here is keyed by chat/user/topic and can't
	// look up by id directly, so its result only supplies model/prompt
	// metadata while batch.ThreadID stays the authoritative thread id used
	// everywhere below. Forum threads are stored under their topic id, so
	// the empty-topic lookup misses them; the turn then runs with the
	// default model and no per-thread prompt.
	thread, err := o.Store.GetThread(ctx, batch.ChatID, batch.UserID, "")
	if err == store.ErrNotFound {
		thread, err = &store.Thread{ChatID: batch.ChatID, UserID: batch.UserID}, nil
	}
	if err != nil {
		slog.Error("agent: could not load thread", "thread", batch.ThreadID, "error", err)
		return
	}
	thread.ID = batch.ThreadID

	userText := joinBatchText(batch.Items)
	o.appendMessage(thread.ID, store.Message{
		ChatID:    batch.ChatID,
		ThreadID:  thread.ID,
		Role:      store.RoleUser,
		Text:      userText,
		CreatedAt: time.Now(),
	})

	if err := o.Balance.Check(ctx, batch.UserID); err != nil {
		o.sendPlain(ctx, batch, "You're out of balance. Please top up to continue.")
		return
	}

	sink, err := o.Sinks(ctx, batch.ChatID, batch.UserID)
	if err != nil {
		slog.Error("agent: could not open sink", "thread", thread.ID, "error", err)
		return
	}
	session := o.Streams.Start(thread.ID, sink, o.draftEditPeriod())
	draft := session.Draft
	defer o.Streams.End(thread.ID, session)

	modelKey := thread.ModelKey
	if modelKey == "" {
		modelKey = o.DefaultModel
	}
	modelCfg, ok := o.Models[modelKey]
	if !ok {
		o.sendPlain(ctx, batch, "The configured model is unavailable. Please contact the operator.")
		return
	}

	systemPrompt := o.GlobalSystem
	user, err := o.Store.GetUser(ctx, batch.UserID)
	if err == nil && user.CustomPersonality != "" {
		systemPrompt = systemPrompt + "\n\n" + user.CustomPersonality
	}
	if thread.PerThreadSystemPrompt != "" {
		systemPrompt = systemPrompt + "\n\n" + thread.PerThreadSystemPrompt
	}

	history, err := o.Store.ListMessages(ctx, thread.ID, 200)
	if err != nil {
		slog.Warn("agent: could not load history", "thread", thread.ID, "error", err)
	}

	baseMessages, systemBlocks := o.ContextBuilder.Build(contextbuild.Input{
		SystemPrompt: systemPrompt,
		Thread:       thread,
		History:      history,
	})

	var turnMessages []llm.Message // grows each continuation with tool_use/tool_result blocks
	turnMessages = append(turnMessages, llm.Message{
		Role:    "user",
		Content: []llm.ContentBlock{{Type: "text", Text: userText}},
	})

	var totalUsage llm.Usage
	var finalText string
	var cancelled bool
	toolDefs := toolDefinitions(o.Tools)

	for iteration := 0; iteration < maxContinuations; iteration++ {
		select {
		case <-cancel:
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		req := llm.Request{
			Model:           modelCfg.ProviderModel,
			System:          systemBlocks,
			Messages:        append(append([]llm.Message{}, baseMessages...), turnMessages...),
			Tools:           toolDefs,
			MaxOutputTokens: 8192,
		}

		var staged []stagedToolUse
		var iterText string
		var stopReason llm.StopReason
		var assistantContent []llm.ContentBlock

		err := o.Client.Stream(ctx, req, cancel, func(ev llm.Event) {
			switch ev.Kind {
			case llm.EventTextDelta:
				iterText += ev.Text
				_ = draft.Append(ev.Text)
			case llm.EventThinkingDelta:
				// Thinking deltas aren't shown on the draft; only text reaches the user.
			case llm.EventToolUse:
				if ev.ToolUse != nil {
					staged = append(staged, stagedToolUse{id: ev.ToolUse.ID, name: ev.ToolUse.Name, input: ev.ToolUse.Input})
				}
			case llm.EventMessageStop:
				stopReason = ev.StopReason
				assistantContent = ev.AssistantContent
				totalUsage.InputTokens += ev.Usage.InputTokens
				totalUsage.OutputTokens += ev.Usage.OutputTokens
				totalUsage.CacheReadTokens += ev.Usage.CacheReadTokens
				totalUsage.CacheWriteTokens += ev.Usage.CacheWriteTokens
			}
		})
		if err != nil {
			slog.Error("agent: llm stream failed", "thread", thread.ID, "iteration", iteration, "error", err)
			finalText = "Something went wrong talking to the model. Please try again."
			break
		}

		finalText = iterText

		// A cancelled stream returns without message_stop; finish the
		// draft as interrupted rather than as a completed reply.
		select {
		case <-cancel:
			cancelled = true
			goto afterLoop
		default:
		}

		switch stopReason {
		case llm.StopToolUse:
			if len(staged) == 0 {
				goto afterLoop
			}
			turnMessages = append(turnMessages, llm.Message{Role: "assistant", Content: assistantContent})

			outcomes, endLoop := o.dispatchTools(ctx, thread.ID, batch.UserID, staged)
			o.persistToolIteration(thread.ID, batch.ChatID, assistantContent, outcomes)

			var resultBlocks []llm.ContentBlock
			for _, oc := range outcomes {
				resultBlocks = append(resultBlocks, llm.ContentBlock{
					Type:            "tool_result",
					ToolResultForID: oc.call.id,
					ToolResultText:  oc.result.ForLLM,
					ToolResultIsErr: oc.result.IsError,
				})
				o.deliverResult(ctx, thread.ID, batch.ChatID, batch.UserID, oc, sink)
			}
			turnMessages = append(turnMessages, llm.Message{Role: "user", Content: resultBlocks})

			if endLoop {
				goto afterLoop
			}
			continue

		case llm.StopEndTurn:
			goto afterLoop

		case llm.StopContextWindowExceeded:
			finalText = "This conversation has grown too long for the model's context window. Please start a new thread."
			goto afterLoop

		case llm.StopMaxTokens:
			finalText = iterText + "\n\n[response truncated: maximum output length reached]"
			goto afterLoop

		case llm.StopRefusal:
			goto afterLoop

		default:
			goto afterLoop
		}
	}
afterLoop:

	if cancelled {
		_ = draft.Interrupt()
	} else {
		_ = draft.Finalize()
	}

	if after, err := o.Balance.ChargeTurn(ctx, batch.UserID, thread.ID, totalUsage, modelCfg.Pricing); err != nil {
		slog.Error("agent: charge turn failed", "thread", thread.ID, "error", err)
	} else {
		o.breakerInvalidateUser(batch.UserID)
		_ = after
	}

	o.appendMessage(thread.ID, store.Message{
		ChatID:           batch.ChatID,
		ThreadID:         thread.ID,
		Role:             store.RoleAssistant,
		Text:             finalText,
		InputTokens:      totalUsage.InputTokens,
		OutputTokens:     totalUsage.OutputTokens,
		CacheReadTokens:  totalUsage.CacheReadTokens,
		CacheWriteTokens: totalUsage.CacheWriteTokens,
		CreatedAt:        time.Now(),
	})
}

// dispatchTools runs free tool calls concurrently, but takes each paid
// call's balance check + dispatch + charge as one atomic, sequential unit:
// a charge from one paid call in this batch must already be visible to the
// next paid call's pre-dispatch check, which a check-all-then-dispatch-all-
// in-parallel shape can't guarantee. Results are written into a pre-sized
// slice by original index either way, so the returned order always matches
// call order regardless of goroutine completion order. endLoop reports
// whether any result carried force_turn_break — one is enough even if
// several do.
func (o *Orchestrator) dispatchTools(ctx context.Context, threadID, userID string, staged []stagedToolUse) ([]toolOutcome, bool) {
	outcomes := make([]toolOutcome, len(staged))
	var wg sync.WaitGroup

	for i, call := range staged {
		t, ok := o.Tools.Get(call.name)
		if !ok {
			outcomes[i] = toolOutcome{call: call, result: tools.ErrorResult("unregistered tool %q", call.name)}
			continue
		}

		if t.IsPaid {
			outcomes[i] = toolOutcome{call: call, result: o.dispatchPaidTool(ctx, threadID, userID, call, t)}
			continue
		}

		wg.Add(1)
		go func(idx int, call stagedToolUse, t *tools.Tool) {
			defer wg.Done()
			toolCtx := tools.WithThreadID(ctx, threadID)
			toolCtx = tools.WithUserID(toolCtx, userID)
			result := t.Executor(toolCtx, call.input)
			outcomes[idx] = toolOutcome{call: call, result: result}
		}(i, call, t)
	}
	wg.Wait()

	endLoop := false
	for i := range outcomes {
		if outcomes[i].result == nil {
			outcomes[i].result = tools.ErrorResult("tool produced no result")
		}
		if outcomes[i].result.ForceTurnBreak {
			endLoop = true
		}
	}

	return outcomes, endLoop
}

// dispatchPaidTool checks balance ≤ 0, runs the tool, and charges its cost,
// all before returning — so the balance state a subsequent paid call in the
// same batch observes already reflects this one's charge.
func (o *Orchestrator) dispatchPaidTool(ctx context.Context, threadID, userID string, call stagedToolUse, t *tools.Tool) *tools.Result {
	if err := o.Balance.Check(ctx, userID); err != nil {
		return tools.ErrorResult("insufficient balance")
	}

	toolCtx := tools.WithThreadID(ctx, threadID)
	toolCtx = tools.WithUserID(toolCtx, userID)
	result := t.Executor(toolCtx, call.input)
	if result == nil {
		result = tools.ErrorResult("tool produced no result")
	}
	if result.IsError {
		return result
	}

	cost := result.CostUSD
	if cost <= 0 && t.EstimatedCost != nil {
		cost = t.EstimatedCost(call.input)
	}
	if cost > 0 {
		if _, err := o.Balance.ChargeTool(ctx, userID, call.name, threadID, int64(cost*1_000_000)); err != nil {
			slog.Error("agent: charge tool failed", "tool", call.name, "error", err)
		} else {
			result.CostUSD = cost
			o.breakerInvalidateUser(userID)
		}
	}
	return result
}

// deliverResult uploads immediate-delivery file_contents to the frontend and
// files them as UserFiles, and stores output_files as ExecArtifacts awaiting
// deliver_file. A rejected upload still leaves the tool result in the
// transcript; only the frontend delivery step is skipped. Paid tools are
// already charged by dispatchPaidTool before this runs.
func (o *Orchestrator) deliverResult(ctx context.Context, threadID, chatID, userID string, oc toolOutcome, sink stream.Sink) {
	for _, blob := range oc.result.FileContents {
		providerFileID, err := o.Files.Upload(ctx, blob.Filename, blob.Mime, blob.Data)
		if err != nil {
			slog.Error("agent: upload assistant file failed", "filename", blob.Filename, "error", err)
			continue
		}
		now := time.Now()
		row := &store.UserFile{
			ID:             threadID + ":" + blob.Filename + ":" + now.String(),
			ThreadID:       threadID,
			ProviderFileID: providerFileID,
			Filename:       blob.Filename,
			Mime:           blob.Mime,
			Size:           int64(len(blob.Data)),
			UploadedAt:     now,
			ExpiresAt:      now.Add(30 * 24 * time.Hour),
			Origin:         store.OriginAssistant,
			UploadContext:  blob.Context,
		}
		o.WriteBehind.Push(writebehind.KindUserFile, row)

		if notifier, ok := sink.(interface {
			SendFile(filename, mime string, data []byte, caption string) error
		}); ok {
			if err := notifier.SendFile(blob.Filename, blob.Mime, blob.Data, blob.Context); err != nil {
				slog.Error("agent: frontend delivery failed", "filename", blob.Filename, "error", err)
			}
		}
	}

	for _, blob := range oc.result.OutputFiles {
		o.Artifacts.Create(threadID, blob.Data, execartifact.Metadata{
			Filename: blob.Filename,
			Mime:     blob.Mime,
			Context:  blob.Context,
		})
	}
}

// persistToolIteration writes the intra-turn assistant/tool-result exchange
// through cache and write-behind. Message.Text holds
// a compact transcript line per call since the durable schema persists
// plain text history; the full structured tool_use/tool_result blocks only
// need to survive for the lifetime of this turn's in-memory continuation,
// which turnMessages already carries.
func (o *Orchestrator) persistToolIteration(threadID, chatID string, assistantContent []llm.ContentBlock, outcomes []toolOutcome) {
	var calls strings.Builder
	for _, b := range assistantContent {
		if b.Type == "tool_use" {
			fmt.Fprintf(&calls, "[called %s]\n", b.ToolName)
		}
		if b.Type == "text" && b.Text != "" {
			calls.WriteString(b.Text)
			calls.WriteString("\n")
		}
	}
	if calls.Len() > 0 {
		o.appendMessage(threadID, store.Message{ChatID: chatID, ThreadID: threadID, Role: store.RoleAssistant, Text: calls.String(), CreatedAt: time.Now()})
	}

	var results strings.Builder
	for _, oc := range outcomes {
		fmt.Fprintf(&results, "[%s result] %s\n", oc.call.name, truncateForLog(oc.result.ForLLM, 2000))
	}
	if results.Len() > 0 {
		o.appendMessage(threadID, store.Message{ChatID: chatID, ThreadID: threadID, Role: store.RoleUser, Text: results.String(), CreatedAt: time.Now()})
	}
}

func (o *Orchestrator) appendMessage(threadID string, msg store.Message) {
	// Rows are keyed by (chat, external id); a message with no frontend id
	// gets a generated one so it does not overwrite an earlier row.
	if msg.ExternalMsgID == "" {
		msg.ExternalMsgID = uuid.NewString()
	}
	o.WriteBehind.Push(writebehind.KindMessage, msg)

	key := cache.ThreadMessagesKey(threadID)
	var msgs []store.Message
	if v, ok := o.Breaker.Get(key); ok {
		if existing, ok := v.([]store.Message); ok {
			msgs = existing
		}
	}
	msgs = append(msgs, msg)
	o.Breaker.Set(key, msgs, o.cacheTTL())
}

func (o *Orchestrator) breakerInvalidateUser(userID string) {
	o.Breaker.Delete(cache.UserKey(userID))
}

func (o *Orchestrator) sendPlain(ctx context.Context, batch batcher.Batch, text string) {
	sink, err := o.Sinks(ctx, batch.ChatID, batch.UserID)
	if err != nil {
		slog.Error("agent: could not open sink for plain message", "error", err)
		return
	}
	if _, err := sink.Send(text); err != nil {
		slog.Error("agent: could not send plain message", "error", err)
	}
}

func (o *Orchestrator) draftEditPeriod() time.Duration {
	if o.DraftEditPeriod <= 0 {
		return 700 * time.Millisecond
	}
	return o.DraftEditPeriod
}

func (o *Orchestrator) cacheTTL() time.Duration {
	if o.CacheTTL <= 0 {
		return time.Hour
	}
	return o.CacheTTL
}

func joinBatchText(items []batcher.Item) string {
	var parts []string
	for _, it := range items {
		if it.Content != "" {
			parts = append(parts, it.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

func toolDefinitions(reg *tools.Registry) []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	for _, t := range reg.List() {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			ServerSide:  t.ServerSide,
		})
	}
	return defs
}
