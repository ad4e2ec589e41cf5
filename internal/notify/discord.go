package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Embed colours by event. Unknown events are grey.
var discordColors = map[string]int{
	"funds_exhausted": 0xE74C3C,
	"rate_limited":    0xF1C40F,
	"retry_limit":     0xE67E22,
}

const discordDefaultColor = 0x95A5A6

// DiscordSender posts alerts to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     newHTTPClient(),
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp,omitempty"`
	Footer      *struct {
		Text string `json:"text"`
	} `json:"footer,omitempty"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Send posts msg as a single embed. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	color, ok := discordColors[msg.Event]
	if !ok {
		color = discordDefaultColor
	}
	embed := discordEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       color,
	}
	if !msg.Time.IsZero() {
		embed.Timestamp = msg.Time.UTC().Format(time.RFC3339)
	}
	if msg.Event != "" {
		embed.Footer = &struct {
			Text string `json:"text"`
		}{Text: msg.Event}
	}
	if err := postJSON(ctx, d.client, d.webhookURL, discordPayload{Embeds: []discordEmbed{embed}}); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
