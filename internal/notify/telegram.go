package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultTelegramAPI is the Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

const telegramMaxText = 4096

var levelIcons = map[string]string{"WARN": "⚠️ ", "ERROR": "🛑 "}

// TelegramSender posts plain-text messages through the Bot API.
type TelegramSender struct {
	endpoint string
	token    string
	chatID   string
	client   *http.Client
}

// NewTelegramSender returns a sender for one chat. A blank apiBase uses
// DefaultTelegramAPI.
func NewTelegramSender(apiBase, token, chatID string) *TelegramSender {
	if apiBase == "" {
		apiBase = DefaultTelegramAPI
	}
	return &TelegramSender{
		endpoint: fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(apiBase, "/"), token),
		token:    token,
		chatID:   chatID,
		client:   newHTTPClient(),
	}
}

// Send uses plain text so slugs and field names need no Markdown escaping.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	text := levelIcons[string(msg.Level)] + msg.Title
	if msg.Body != "" {
		text += "\n" + msg.Body
	}
	err := postJSON(ctx, t.client, t.endpoint, map[string]any{
		"chat_id":                  t.chatID,
		"text":                     truncate(text, telegramMaxText),
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", redactToken(err, t.token))
	}
	return nil
}

// Name implements Sender.
func (t *TelegramSender) Name() string { return "telegram" }

// redactToken strips the bot token from transport errors, which quote the
// request URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "***"))
}
