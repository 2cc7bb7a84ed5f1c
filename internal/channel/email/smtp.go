package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// SMTPProvider implements email sending over plain SMTP, with STARTTLS on
// port 587 and implicit TLS on port 465.
type SMTPProvider struct {
	host     string
	port     string
	user     string
	password string
}

// SMTPConfig holds SMTP configuration.
type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
}

// NewSMTPProvider creates a new SMTP email provider.
func NewSMTPProvider(cfg SMTPConfig) *SMTPProvider {
	return &SMTPProvider{
		host:     cfg.Host,
		port:     cfg.Port,
		user:     cfg.User,
		password: cfg.Password,
	}
}

// Name returns the provider name.
func (p *SMTPProvider) Name() string {
	return "smtp"
}

// IsConfigured returns true if an SMTP host is configured.
func (p *SMTPProvider) IsConfigured() bool {
	return p.host != ""
}

// Send sends an email over SMTP.
func (p *SMTPProvider) Send(ctx context.Context, req *Request) error {
	if p.host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if len(req.To) == 0 {
		return fmt.Errorf("no recipients specified")
	}

	// Gmail requires the envelope FROM to match the authenticated user.
	from := req.From
	if strings.Contains(p.host, "gmail.com") && p.user != "" {
		from = p.user
	}

	msg := buildMessage(from, req.To, req.Subject, req.Body)
	addr := net.JoinHostPort(p.host, p.port)

	port, err := strconv.Atoi(p.port)
	if err != nil {
		return fmt.Errorf("invalid SMTP port: %s", p.port)
	}

	if port == 587 || port == 465 {
		if err := p.sendWithTLS(addr, port, from, req.To, msg); err != nil {
			return err
		}
	} else {
		// Local relays (mailhog and friends) speak plain SMTP.
		var auth smtp.Auth
		if p.user != "" && p.password != "" {
			auth = smtp.PlainAuth("", p.user, p.password, p.host)
		}
		if err := smtp.SendMail(addr, auth, from, req.To, msg); err != nil {
			return fmt.Errorf("failed to send email via SMTP: %w", err)
		}
	}

	slog.Info("Email sent via SMTP", "to", req.To, "subject", req.Subject, "host", p.host)
	return nil
}

// sendWithTLS sends using TLS/STARTTLS for secure SMTP connections.
func (p *SMTPProvider) sendWithTLS(addr string, port int, from string, recipients []string, msg []byte) error {
	var client *smtp.Client

	if port == 465 {
		// Implicit TLS from the start
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: p.host})
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server with TLS: %w", err)
		}
		defer conn.Close()

		client, err = smtp.NewClient(conn, p.host)
		if err != nil {
			return fmt.Errorf("failed to create SMTP client: %w", err)
		}
	} else {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		defer conn.Close()

		client, err = smtp.NewClient(conn, p.host)
		if err != nil {
			return fmt.Errorf("failed to create SMTP client: %w", err)
		}

		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: p.host}); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}
	defer client.Close()

	if p.user != "" && p.password != "" {
		auth := smtp.PlainAuth("", p.user, p.password, p.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender %s: %w", from, err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

// buildMessage assembles RFC 5322 headers and body.
func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
