package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Level selects the embed color of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func (l Level) color() int {
	switch l {
	case LevelInfo:
		return 0x00ff00
	case LevelWarning:
		return 0xffff00
	case LevelError:
		return 0xff0000
	default:
		return 0x808080
	}
}

// Notifier is the interface for sending operator notifications.
type Notifier interface {
	Send(ctx context.Context, title, message string, level Level) error
}

type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// DiscordClient posts notifications to a Discord webhook.
type DiscordClient struct {
	httpClient *http.Client
	webhookURL string
	logger     *zap.Logger
}

// NewDiscordClient creates a new webhook client.
func NewDiscordClient(webhookURL string, logger *zap.Logger) *DiscordClient {
	return &DiscordClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		webhookURL: webhookURL,
		logger:     logger,
	}
}

// Send posts a single embed.
func (c *DiscordClient) Send(ctx context.Context, title, message string, level Level) error {
	body, err := json.Marshal(discordMessage{
		Embeds: []discordEmbed{{
			Title:       title,
			Description: message,
			Color:       level.color(),
			Timestamp:   time.Now().Format(time.RFC3339),
		}},
	})
	if err != nil {
		return fmt.Errorf("marshaling discord message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(msg)),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when no webhook is configured.
type NoopNotifier struct{}

// Send is a no-op.
func (n *NoopNotifier) Send(_ context.Context, _, _ string, _ Level) error {
	return nil
}

// New creates the appropriate notifier for the webhook URL.
func New(webhookURL string, logger *zap.Logger) Notifier {
	if webhookURL == "" {
		return &NoopNotifier{}
	}
	return NewDiscordClient(webhookURL, logger)
}
