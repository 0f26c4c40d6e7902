package notify

import (
	"context"
	"net/http"
	"strings"
)

// Discord embed limits.
const (
	discordTitleMax = 256
	discordBodyMax  = 4096
)

// Embed colours.
const (
	colourInfo  = 0x2ecc71
	colourAlert = 0xe74c3c
)

// DiscordSender posts embeds to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

// Send posts one embed. Liquidation warnings and failed actions are red.
// Discord answers 204.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]any{
		"username": "synthex",
		"embeds": []discordEmbed{{
			Title:       clip(title, discordTitleMax),
			Description: clip(message, discordBodyMax),
			Color:       embedColour(title),
		}},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }

func embedColour(title string) int {
	t := strings.ToLower(title)
	for _, word := range []string{"liquidation", "failed", "rejected", "reverted"} {
		if strings.Contains(t, word) {
			return colourAlert
		}
	}
	return colourInfo
}

// clip cuts s to at most n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
