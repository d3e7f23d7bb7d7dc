package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Discord embed limits.
const (
	discordMaxTitle       = 256
	discordMaxDescription = 4096
)

var discordColors = map[domain.Level]int{
	domain.LevelInfo:  0x3498db,
	domain.LevelWarn:  0xf1c40f,
	domain.LevelError: 0xe74c3c,
}

// DiscordSender posts one embed per message to a webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender returns a sender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts msg as an embed colored by level. The body is fenced so field
// columns line up.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	color, ok := discordColors[msg.Level]
	if !ok {
		color = discordColors[domain.LevelInfo]
	}
	embed := discordEmbed{
		Title:       truncate(msg.Title, discordMaxTitle),
		Description: truncate("```\n"+msg.Body+"\n```", discordMaxDescription),
		Color:       color,
	}
	if !msg.At.IsZero() {
		embed.Timestamp = msg.At.UTC().Format(time.RFC3339)
	}
	if err := postJSON(ctx, d.client, d.webhookURL, discordPayload{
		Username: "updownbot",
		Embeds:   []discordEmbed{embed},
	}); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name implements Sender.
func (d *DiscordSender) Name() string { return "discord" }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
