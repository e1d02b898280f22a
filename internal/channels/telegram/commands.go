package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// handleBotCommand checks if the message is a known slash command and
// handles it directly, without going through ingress/batcher — commands are
// channel-local control surface, not turns for the agent loop.
func (c *Channel) handleBotCommand(ctx context.Context, message *telego.Message, userID string) bool {
	text := message.Text
	if len(text) == 0 || text[0] != '/' {
		return false
	}

	cmd := strings.SplitN(text, " ", 2)[0]
	cmd = strings.SplitN(cmd, "@", 2)[0]
	cmd = strings.ToLower(cmd)

	chatIDObj := tu.ID(message.Chat.ID)
	isForum := (message.Chat.Type == "group" || message.Chat.Type == "supergroup") && message.Chat.IsForum
	messageThreadID := 0
	if isForum {
		messageThreadID = message.MessageThreadID
		if messageThreadID == 0 {
			messageThreadID = telegramGeneralTopicID
		}
	}
	setThread := func(msg *telego.SendMessageParams) {
		if tid := resolveThreadIDForSend(messageThreadID); tid > 0 {
			msg.MessageThreadID = tid
		}
	}

	switch cmd {
	case "/start":
		// Pass through — the agent loop greets new users itself.
		return false

	case "/help":
		helpText := "Available commands:\n" +
			"/start — Start chatting with the bot\n" +
			"/help — Show this help message\n" +
			"/status — Show bot status\n" +
			"/balance — Show your remaining balance\n" +
			"\nJust send a message to chat with the AI."
		msg := tu.Message(chatIDObj, helpText)
		setThread(msg)
		c.bot.SendMessage(ctx, msg)
		return true

	case "/status":
		statusText := fmt.Sprintf("Bot status: Running\nChannel: Telegram\nBot: @%s", c.bot.Username())
		msg := tu.Message(chatIDObj, statusText)
		setThread(msg)
		c.bot.SendMessage(ctx, msg)
		return true

	case "/balance":
		msg := tu.Message(chatIDObj, c.balanceText(ctx, userID))
		setThread(msg)
		c.bot.SendMessage(ctx, msg)
		return true
	}

	return false
}

// balanceText reports a user's remaining prepaid balance in dollars, to
// four decimal places.
func (c *Channel) balanceText(ctx context.Context, userID string) string {
	if c.store == nil {
		return "Balance lookup is not available."
	}
	u, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return "Could not look up your balance. Please try again."
	}
	dollars := float64(u.BalanceMicros) / 1_000_000
	return fmt.Sprintf("Your balance: $%.4f", dollars)
}

// SyncMenuCommands registers bot commands with Telegram via setMyCommands.
func (c *Channel) SyncMenuCommands(ctx context.Context, commands []telego.BotCommand) error {
	if len(commands) == 0 {
		return nil
	}
	if len(commands) > 100 {
		commands = commands[:100]
	}
	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: commands})
}

// DefaultMenuCommands returns the default bot menu commands.
func DefaultMenuCommands() []telego.BotCommand {
	return []telego.BotCommand{
		{Command: "start", Description: "Start chatting with the bot"},
		{Command: "help", Description: "Show available commands"},
		{Command: "status", Description: "Show bot status"},
		{Command: "balance", Description: "Show your remaining balance"},
	}
}
