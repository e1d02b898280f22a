// Package telegram is the gateway's one frontend adapter: a long-polling
// Telegram bot that normalizes inbound updates through internal/ingress,
// pushes them onto internal/batcher, and exposes a stream.Sink the turn
// orchestrator edits in place while a response streams in.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/tollgate/internal/channels"
	"github.com/nextlevelbuilder/tollgate/internal/batcher"
	"github.com/nextlevelbuilder/tollgate/internal/channels/typing"
	"github.com/nextlevelbuilder/tollgate/internal/config"
	"github.com/nextlevelbuilder/tollgate/internal/ingress"
	"github.com/nextlevelbuilder/tollgate/internal/store"
	"github.com/nextlevelbuilder/tollgate/internal/stream"
)

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot     *telego.Bot
	cfg     config.TelegramConfig
	ingress *ingress.Normalizer
	batcher *batcher.Batcher
	store   store.Store

	requireMention bool
	pollCancel     context.CancelFunc
	pollDone       chan struct{}
}

// New creates a Telegram channel; ing and bat wire the inbound half of the
// pipeline (media download happens here, normalization and coalescing
// happen downstream), and st backs the /balance command. The orchestrator's
// Sinks field should be set to ch.NewSink so streamed turns edit Telegram
// messages in place.
func New(cfg config.TelegramConfig, ing *ingress.Normalizer, bat *batcher.Batcher, st store.Store) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("telegram", cfg.AllowFrom),
		bot:            bot,
		cfg:            cfg,
		ingress:        ing,
		batcher:        bat,
		store:          st,
		requireMention: requireMention,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		if err := c.SyncMenuCommands(pollCtx, DefaultMenuCommands()); err != nil {
			slog.Warn("failed to sync telegram menu commands", "error", err)
		}
	}()

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the poll goroutine to exit so
// Telegram releases the getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// NewSink implements agent.SinkFactory. chatID is the composite key
// Normalize received as ev.ChatID ("123456", or "123456:topic:5" for a
// forum topic, General being "123456:topic:1"), so the numeric chat and topic split back out
// of it the same way the inbound handler built it.
func (c *Channel) NewSink(ctx context.Context, chatID, userID string) (stream.Sink, error) {
	numericChatID, topicID, err := parseLocalKey(chatID)
	if err != nil {
		return nil, fmt.Errorf("parse chat id %q: %w", chatID, err)
	}

	action := tu.ChatAction(tu.ID(numericChatID), telego.ChatActionTyping)
	if tid := resolveThreadIDForSend(topicID); tid > 0 {
		action.MessageThreadID = tid
	}
	keepalive := typing.New(ctx, typing.Options{
		Action: func(actionCtx context.Context) error {
			return c.bot.SendChatAction(actionCtx, action)
		},
	})
	keepalive.Start()
	context.AfterFunc(ctx, keepalive.Stop)

	return &telegramSink{ctx: ctx, bot: c.bot, chatID: numericChatID, topicID: topicID}, nil
}

// telegramSink implements stream.Sink by sending one message and editing it
// in place as draft text grows.
type telegramSink struct {
	ctx     context.Context
	bot     *telego.Bot
	chatID  int64
	topicID int
}

func (s *telegramSink) Send(text string) (string, error) {
	msg := tu.Message(tu.ID(s.chatID), text)
	if tid := resolveThreadIDForSend(s.topicID); tid > 0 {
		msg.MessageThreadID = tid
	}
	sent, err := s.bot.SendMessage(s.ctx, msg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", sent.MessageID), nil
}

func (s *telegramSink) Edit(messageID, text string) error {
	var id int
	if _, err := fmt.Sscanf(messageID, "%d", &id); err != nil {
		return fmt.Errorf("parse message id %q: %w", messageID, err)
	}
	_, err := s.bot.EditMessageText(s.ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(s.chatID),
		MessageID: id,
		Text:      text,
	})
	return err
}

// SendFile delivers an assistant-produced file straight to the chat. The
// turn orchestrator calls this through an optional-interface type
// assertion (internal/agent's deliverResult) rather than depending on it.
func (s *telegramSink) SendFile(filename, mime string, data []byte, caption string) error {
	doc := tu.Document(tu.ID(s.chatID), tu.File(tu.NameReader(bytes.NewReader(data), filename)))
	doc.Caption = caption
	if tid := resolveThreadIDForSend(s.topicID); tid > 0 {
		doc.MessageThreadID = tid
	}
	_, err := s.bot.SendDocument(s.ctx, doc)
	return err
}

// parseLocalKey splits the composite chat key built in handlers.go back
// into a numeric chat id and forum topic id (0 when the chat has no
// topics). "-12345" → (-12345, 0); "-12345:topic:99" → (-12345, 99).
func parseLocalKey(key string) (chatID int64, topicID int, err error) {
	raw := key
	if idx := indexOf(key, ":topic:"); idx >= 0 {
		raw = key[:idx]
		if _, serr := fmt.Sscanf(key[idx+len(":topic:"):], "%d", &topicID); serr != nil {
			return 0, 0, serr
		}
	}
	if _, err := fmt.Sscanf(raw, "%d", &chatID); err != nil {
		return 0, 0, err
	}
	return chatID, topicID, nil
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// telegramGeneralTopicID is the fixed topic ID for the "General" topic in
// forum supergroups.
const telegramGeneralTopicID = 1

// resolveThreadIDForSend returns the thread ID for Telegram send/edit API
// calls. The General topic (1) must be omitted — Telegram rejects it with
// "thread not found".
func resolveThreadIDForSend(topicID int) int {
	if topicID == telegramGeneralTopicID {
		return 0
	}
	return topicID
}
