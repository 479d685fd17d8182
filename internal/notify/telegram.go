package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskdav/internal/validate"
)

// TelegramNotifier delivers notifications as Telegram messages. Users
// without a chat id on file cannot receive them.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewTelegramNotifier authenticates against the Bot API with the given
// token.
func NewTelegramNotifier(token string, logger *slog.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	logger.Info("telegram notifier ready", "bot", api.Self.UserName)
	return &TelegramNotifier{api: api, logger: logger}, nil
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Send(_ context.Context, n Notification) error {
	if n.User.TelegramChatID == 0 {
		return fmt.Errorf("user %s has no telegram chat id", n.User.Username)
	}

	// Title and body originate from client-supplied fields, so they are
	// escaped before entering HTML parse mode.
	text := "<b>" + validate.Markup(n.Title) + "</b>"
	if n.Body != "" {
		text += "\n\n" + validate.Markup(n.Body)
	}

	msg := tgbotapi.NewMessage(n.User.TelegramChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send message to chat %d: %w", n.User.TelegramChatID, err)
	}
	return nil
}
