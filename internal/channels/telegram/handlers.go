package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/tollgate/internal/batcher"
	"github.com/nextlevelbuilder/tollgate/internal/channels"
	"github.com/nextlevelbuilder/tollgate/internal/ingress"
	"github.com/nextlevelbuilder/tollgate/internal/store"
)

// handleMessage turns one inbound Telegram message into a RawEvent, runs it
// through the ingress normalizer, and pushes the result onto the per-thread
// batcher. Replies/streaming for the turn itself happen later, through the
// stream.Sink this channel hands the orchestrator via NewSink.
func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	if isServiceMessage(message) {
		slog.Debug("telegram service message skipped", "chat_id", message.Chat.ID)
		return
	}

	user := message.From
	if user == nil {
		return
	}

	userID := fmt.Sprintf("%d", user.ID)
	senderID := userID
	if user.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, user.Username)
	}

	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"

	slog.Debug("telegram message received",
		"chat_type", message.Chat.Type,
		"chat_id", message.Chat.ID,
		"is_group", isGroup,
		"user_id", user.ID,
		"channel", c.Name(),
		"text_preview", channels.Truncate(message.Text, 60),
	)

	// For non-forum groups, message_thread_id is reply context, not a topic,
	// so it's ignored. Forum groups with no explicit thread default to the
	// always-present General topic (ID 1).
	isForum := isGroup && message.Chat.IsForum
	messageThreadID := 0
	if isForum {
		messageThreadID = message.MessageThreadID
		if messageThreadID == 0 {
			messageThreadID = telegramGeneralTopicID
		}
	}

	if isGroup {
		groupPolicy := c.cfg.GroupPolicy
		if groupPolicy == "" {
			groupPolicy = "open"
		}
		switch groupPolicy {
		case "disabled":
			slog.Debug("telegram group message rejected: groups disabled", "chat_id", message.Chat.ID)
			return
		case "allowlist":
			if !c.IsAllowed(userID) && !c.IsAllowed(senderID) {
				slog.Debug("telegram group message rejected by allowlist", "user_id", userID, "chat_id", message.Chat.ID)
				return
			}
		}
	} else {
		dmPolicy := c.cfg.DMPolicy
		if dmPolicy == "" {
			dmPolicy = "open"
		}
		switch dmPolicy {
		case "disabled":
			slog.Debug("telegram dm rejected: dms disabled", "user_id", userID)
			return
		case "allowlist":
			if !c.IsAllowed(userID) && !c.IsAllowed(senderID) {
				slog.Debug("telegram dm rejected by allowlist", "user_id", userID)
				return
			}
		}
	}

	if c.handleBotCommand(ctx, message, userID) {
		return
	}

	if isGroup && c.requireMention {
		botUsername := c.bot.Username()
		wasMentioned := c.detectMention(message, botUsername)
		if !wasMentioned && message.ReplyToMessage != nil && message.ReplyToMessage.From != nil &&
			message.ReplyToMessage.From.Username == botUsername {
			wasMentioned = true
		}
		if !wasMentioned {
			slog.Debug("telegram group message skipped: no mention", "chat_id", message.Chat.ID)
			return
		}
	}

	chatIDStr := fmt.Sprintf("%d", message.Chat.ID)

	// Composite key: every forum topic (General included, as topic 1) gets
	// its own thread identity all the way through ingress/batcher/agent;
	// telegram.Channel's NewSink parses it back out to route sends/edits to
	// the right topic. Non-forum chats keep the plain chat id and an empty
	// topic id.
	localKey := chatIDStr
	topicID := ""
	if isForum {
		localKey = fmt.Sprintf("%s:topic:%d", chatIDStr, messageThreadID)
		topicID = fmt.Sprintf("%d", messageThreadID)
	}

	chatKind := store.ChatPrivate
	switch message.Chat.Type {
	case "group":
		chatKind = store.ChatGroup
	case "supergroup":
		chatKind = store.ChatSupergroup
	case "channel":
		chatKind = store.ChatChannel
	}

	mediaList := c.resolveMedia(ctx, message)

	displayName := user.FirstName
	if user.LastName != "" {
		displayName = displayName + " " + user.LastName
	}

	ev := ingress.RawEvent{
		ChatID:          localKey,
		ChatKind:        chatKind,
		ChatTitle:       message.Chat.Title,
		IsForum:         isForum,
		TopicID:         topicID,
		UserID:          userID,
		UserDisplayName: displayName,
		IsPremiumUser:   user.IsPremium,
		ExternalMsgID:   fmt.Sprintf("%d", message.MessageID),
		Text:            message.Text,
		Caption:         message.Caption,
		Media:           toRawMedia(mediaList),
	}

	processed, err := c.ingress.Normalize(ctx, ev)
	if err != nil {
		slog.Warn("telegram: ingress normalize failed", "chat_id", chatIDStr, "error", err)
		c.replyError(ctx, message.Chat.ID, messageThreadID, err)
		return
	}

	content := buildTurnContent(processed, mediaList)
	if isGroup {
		senderLabel := user.FirstName
		if user.Username != "" {
			senderLabel = "@" + user.Username
		}
		content = fmt.Sprintf("[From: %s]\n%s", senderLabel, content)
	}

	c.batcher.Push(batcher.Item{
		ThreadID: processed.ThreadID,
		ChatID:   processed.ChatID,
		UserID:   processed.UserID,
		Content:  content,
	})
}

// buildTurnContent assembles the text the agent loop sees: media
// placeholders (with transcripts already inlined by ingress), any inline
// document text extracted locally, then the message's own text/caption.
func buildTurnContent(processed *ingress.ProcessedMessage, mediaList []MediaInfo) string {
	var parts []string

	if tags := buildMediaTagsFromFiles(processed.Files); tags != "" {
		parts = append(parts, tags)
	}

	for _, m := range mediaList {
		if m.Type == "document" {
			parts = append(parts, extractDocumentContent(m.Data, m.FileName))
		}
	}

	if processed.Text != "" {
		parts = append(parts, processed.Text)
	}
	if processed.Caption != "" && processed.Caption != processed.Text {
		parts = append(parts, processed.Caption)
	}

	if len(parts) == 0 {
		return "[empty message]"
	}
	return strings.Join(parts, "\n\n")
}

// replyError sends a short failure notice directly, bypassing the batcher
// and stream.Sink since there is no turn to attach this to.
func (c *Channel) replyError(ctx context.Context, chatID int64, topicID int, cause error) {
	text := "Sorry, I couldn't process that message."
	if strings.Contains(cause.Error(), "file exceeds size limit") {
		text = "That file is too large for me to handle."
	}
	msg := tu.Message(tu.ID(chatID), text)
	if tid := resolveThreadIDForSend(topicID); tid > 0 {
		msg.MessageThreadID = tid
	}
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		slog.Warn("telegram: failed to send error reply", "error", err)
	}
}

// detectMention checks if a Telegram message mentions the bot, via entities
// (text or caption) or a plain substring fallback.
func (c *Channel) detectMention(msg *telego.Message, botUsername string) bool {
	if botUsername == "" {
		return false
	}
	lowerBot := strings.ToLower(botUsername)

	for _, pair := range []struct {
		entities []telego.MessageEntity
		text     string
	}{
		{msg.Entities, msg.Text},
		{msg.CaptionEntities, msg.Caption},
	} {
		if pair.text == "" {
			continue
		}
		for _, entity := range pair.entities {
			if entity.Type == "mention" {
				mentioned := pair.text[entity.Offset : entity.Offset+entity.Length]
				if strings.EqualFold(mentioned, "@"+botUsername) {
					return true
				}
			}
			if entity.Type == "bot_command" {
				cmdText := pair.text[entity.Offset : entity.Offset+entity.Length]
				if strings.Contains(strings.ToLower(cmdText), "@"+lowerBot) {
					return true
				}
			}
		}
	}

	if msg.Text != "" && strings.Contains(strings.ToLower(msg.Text), "@"+lowerBot) {
		return true
	}
	if msg.Caption != "" && strings.Contains(strings.ToLower(msg.Caption), "@"+lowerBot) {
		return true
	}

	return false
}

// isServiceMessage reports whether msg carries no user content at all
// (member added/removed, title changed, pinned, etc.).
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}
	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}
	return true
}
