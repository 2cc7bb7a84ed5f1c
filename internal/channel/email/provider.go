// Package email provides email notification sending with a chain of
// providers (Resend, SES, SMTP). The first configured provider that
// accepts the message wins.
package email

import "context"

// Request represents an email to be sent.
type Request struct {
	From    string
	To      []string
	Subject string
	Body    string // Plain text body
	HTML    string // HTML body (optional)
}

// Provider is the interface email backends implement.
type Provider interface {
	// Name returns the provider name (e.g. "resend", "ses", "smtp").
	Name() string

	// Send sends an email using this provider.
	Send(ctx context.Context, req *Request) error

	// IsConfigured returns true if the provider is properly configured.
	IsConfigured() bool
}
