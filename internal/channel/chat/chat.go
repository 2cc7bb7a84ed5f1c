// Package chat provides chat notification sending via incoming webhooks.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/channel"
)

// isValidURL checks if a string is a valid HTTP/HTTPS URL.
func isValidURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// maskURL masks sensitive parts of a URL for logging.
func maskURL(url string) string {
	if len(url) > 50 {
		return url[:30] + "..." + url[len(url)-10:]
	}
	return url
}

// Sender implements chat notification sending via incoming webhooks.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a new chat sender.
func NewSender() *Sender {
	return &Sender{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Type returns the channel type this sender handles.
func (s *Sender) Type() string {
	return "chat"
}

// IsConfigured reports whether chat sending is available. The webhook URL
// travels with each recipient, so the sender itself is always usable.
func (s *Sender) IsConfigured() bool {
	return true
}

// webhookMessage is the JSON body posted to the incoming webhook.
type webhookMessage struct {
	Text string `json:"text"`
}

// Send posts the content to the recipient's incoming webhook URL.
func (s *Sender) Send(ctx context.Context, recipient string, content *channel.Content) error {
	if recipient == "" {
		return channel.Permanent("chat webhook URL is required")
	}
	if !isValidURL(recipient) {
		return channel.Permanent("invalid chat webhook URL: %q (must be a valid HTTP/HTTPS URL)", maskURL(recipient))
	}

	body, err := json.Marshal(webhookMessage{Text: content.Body})
	if err != nil {
		return channel.Permanent("failed to marshal chat payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", recipient, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send chat notification",
			"error", err,
			"webhook_url", maskURL(recipient),
		)
		return fmt.Errorf("failed to send chat notification to %s: %w", maskURL(recipient), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
		return channel.Permanent("chat webhook returned status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}

	slog.Info("Successfully sent chat notification", "webhook_url", maskURL(recipient))
	return nil
}
