// Package payload composes the message content for alert and digest sends.
// Composition here is deliberately plain text; template-driven presentation
// lives with the consuming product surfaces.
package payload

import (
	"fmt"
	"strings"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/channel"
	"github.com/siberlink/energyriskiq-ops-sub002/internal/database"
)

// severityLabels maps ordinal severities to display labels.
var severityLabels = map[int]string{
	1: "LOW",
	2: "MODERATE",
	3: "ELEVATED",
	4: "HIGH",
	5: "CRITICAL",
}

// SeverityLabel returns a display label for an ordinal severity.
func SeverityLabel(severity int) string {
	if label, ok := severityLabels[severity]; ok {
		return label
	}
	return fmt.Sprintf("SEV%d", severity)
}

// typeLabels maps alert types to display labels.
var typeLabels = map[string]string{
	"HIGH_IMPACT_EVENT":   "High-Impact Event",
	"REGIONAL_RISK_SPIKE": "Regional Risk Spike",
	"ASSET_RISK_SPIKE":    "Asset Risk Spike",
	"DAILY_DIGEST_SEED":   "Storage Risk Update",
}

func typeLabel(alertType string) string {
	if label, ok := typeLabels[alertType]; ok {
		return label
	}
	return alertType
}

// BuildAlertContent composes the content for one instant delivery.
func BuildAlertContent(d *database.Delivery) *channel.Content {
	subject := fmt.Sprintf("[%s] %s: %s", SeverityLabel(d.Severity), typeLabel(d.AlertType), d.Region)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", subject)
	if d.Headline != "" {
		fmt.Fprintf(&b, "%s\n\n", d.Headline)
	}
	fmt.Fprintf(&b, "Region: %s\n", d.Region)
	fmt.Fprintf(&b, "Severity: %s\n", SeverityLabel(d.Severity))

	return &channel.Content{
		Subject: subject,
		Body:    b.String(),
	}
}

// BuildDigestContent composes the content for one digest send.
func BuildDigestContent(g *database.Digest, items []*database.DigestItemSummary) *channel.Content {
	subject := fmt.Sprintf("Risk digest: %d alert(s) for %s window %s",
		len(items), g.Period, g.WindowStart.UTC().Format("2006-01-02 15:04"))

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", subject)
	for i, item := range items {
		fmt.Fprintf(&b, "%d. [%s] %s: %s", i+1, SeverityLabel(item.Severity), typeLabel(item.AlertType), item.Region)
		if item.Headline != "" {
			fmt.Fprintf(&b, " - %s", item.Headline)
		}
		b.WriteString("\n")
	}

	return &channel.Content{
		Subject: subject,
		Body:    b.String(),
	}
}
