// Package sms provides SMS notification sending via an HTTP gateway.
package sms

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

// Sender implements SMS notification sending against an HTTP gateway.
type Sender struct {
	gatewayURL string
	apiKey     string
	httpClient *http.Client
}

// Config holds SMS gateway configuration.
type Config struct {
	GatewayURL string
	APIKey     string
}

// NewSender creates a new SMS sender for the given gateway.
func NewSender(cfg Config) *Sender {
	return &Sender{
		gatewayURL: cfg.GatewayURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Type returns the channel type this sender handles.
func (s *Sender) Type() string {
	return "sms"
}

// IsConfigured reports whether an SMS gateway is configured for this
// deployment.
func (s *Sender) IsConfigured() bool {
	return s.gatewayURL != ""
}

// gatewayRequest is the JSON body posted to the SMS gateway.
type gatewayRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// Send posts an SMS to the gateway. The recipient is a phone number in
// E.164 form. SMS bodies carry the subject line only; the full body does
// not fit a text message.
func (s *Sender) Send(ctx context.Context, recipient string, content *channel.Content) error {
	if s.gatewayURL == "" {
		return fmt.Errorf("sms gateway not configured")
	}
	if recipient == "" {
		return channel.Permanent("sms recipient is required")
	}
	if !strings.HasPrefix(recipient, "+") {
		return channel.Permanent("invalid phone number: %q (must be E.164, starting with +)", recipient)
	}

	body, err := json.Marshal(gatewayRequest{To: recipient, Text: content.Subject})
	if err != nil {
		return channel.Permanent("failed to marshal sms payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.gatewayURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send SMS", "error", err, "to", recipient)
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		return channel.Permanent("sms gateway rejected message with status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	slog.Info("Successfully sent SMS", "to", recipient)
	return nil
}
