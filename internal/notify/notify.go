// Package notify delivers run summaries to a chat webhook
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hevygrow/internal/config"
)

// Notifier sends one human-readable message
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Nop discards messages; used when no webhook is configured
type Nop struct{}

func (Nop) Notify(ctx context.Context, message string) error {
	log.Debug().Str("message", message).Msg("notification dropped, no webhook configured")
	return nil
}

// maxContent is Discord's message length limit
const maxContent = 2000

// DiscordPayload is the webhook body
type DiscordPayload struct {
	Username string `json:"username,omitempty"`
	Content  string `json:"content"`
}

// Discord posts messages to a Discord-compatible webhook
type Discord struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscord returns a webhook notifier
func NewDiscord(webhookURL, username string, timeout time.Duration) *Discord {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Discord{
		webhookURL: webhookURL,
		username:   username,
		client:     &http.Client{Timeout: timeout},
	}
}

// New returns a Discord notifier, or Nop with a warning when no URL is set
func New(cfg config.NotifyConfig) Notifier {
	if cfg.WebhookURL == "" {
		log.Warn().Msg("webhook url not configured, notifications disabled")
		return Nop{}
	}
	return NewDiscord(cfg.WebhookURL, cfg.Username, cfg.Timeout)
}

// Notify posts message as the webhook content
func (d *Discord) Notify(ctx context.Context, message string) error {
	payload := DiscordPayload{
		Username: d.username,
		Content:  truncate(message, maxContent),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Debug().Int("status", resp.StatusCode).Int("length", len(payload.Content)).Msg("notification sent")
	return nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
