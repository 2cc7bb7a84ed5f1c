package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/channel"
)

// Sender implements the email channel over a chain of providers. Providers
// are tried in registration order; the first configured one that accepts
// the message wins, and later ones absorb transient provider outages.
type Sender struct {
	from      string
	providers []Provider
}

// NewSender creates an email channel sender with the given provider chain.
func NewSender(from string, providers ...Provider) *Sender {
	return &Sender{
		from:      from,
		providers: providers,
	}
}

// Type returns the channel type this sender handles.
func (s *Sender) Type() string {
	return "email"
}

// IsConfigured reports whether at least one provider can send.
func (s *Sender) IsConfigured() bool {
	for _, p := range s.providers {
		if p.IsConfigured() {
			return true
		}
	}
	return false
}

// Send delivers content to an email address through the provider chain.
func (s *Sender) Send(ctx context.Context, recipient string, content *channel.Content) error {
	if recipient == "" {
		return channel.Permanent("email recipient is required")
	}
	if !strings.Contains(recipient, "@") {
		return channel.Permanent("invalid email address format: %q (missing @ symbol)", recipient)
	}

	req := &Request{
		From:    s.from,
		To:      []string{recipient},
		Subject: content.Subject,
		Body:    content.Body,
		HTML:    content.HTML,
	}

	var lastErr error
	for _, p := range s.providers {
		if !p.IsConfigured() {
			continue
		}
		if err := p.Send(ctx, req); err != nil {
			// A permanent rejection is about the message, not the
			// provider; trying the next provider would just repeat it.
			if !channel.IsTransient(err) {
				return err
			}
			slog.Warn("Email provider failed, trying next",
				"provider", p.Name(),
				"error", err,
			)
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("all email providers failed: %w", lastErr)
	}
	return fmt.Errorf("no email provider configured")
}
