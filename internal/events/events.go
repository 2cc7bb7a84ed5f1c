// Package events defines the event structures consumed and produced by the
// dispatch engine. ScoredSignal is the contract with the upstream scoring
// pipeline; the engine makes no assumption about how a signal was derived.
package events

import "time"

// Alert types recognized by the engine.
const (
	TypeHighImpactEvent   = "HIGH_IMPACT_EVENT"
	TypeRegionalRiskSpike = "REGIONAL_RISK_SPIKE"
	TypeAssetRiskSpike    = "ASSET_RISK_SPIKE"
	TypeDailyDigestSeed   = "DAILY_DIGEST_SEED"
)

// KnownAlertTypes lists every alert type the engine accepts from upstream.
var KnownAlertTypes = []string{
	TypeHighImpactEvent,
	TypeRegionalRiskSpike,
	TypeAssetRiskSpike,
	TypeDailyDigestSeed,
}

// IsKnownAlertType reports whether t is an alert type the engine accepts.
func IsKnownAlertType(t string) bool {
	for _, known := range KnownAlertTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ScoredSignal represents one scored candidate alert from the upstream
// scoring pipeline (scored.signals topic).
type ScoredSignal struct {
	SchemaVersion int               `json:"schema_version"`
	AlertType     string            `json:"alert_type"`
	SourceEventID string            `json:"source_event_id,omitempty"` // set for HIGH_IMPACT_EVENT
	Region        string            `json:"region"`
	Asset         string            `json:"asset,omitempty"`
	Severity      int               `json:"severity"`
	ReportDate    string            `json:"report_date,omitempty"` // YYYY-MM-DD, set for DAILY_DIGEST_SEED
	EventTS       int64             `json:"event_ts"`
	Headline      string            `json:"headline"`
	Drivers       []string          `json:"drivers,omitempty"`
	Scores        map[string]string `json:"scores,omitempty"`
}

// EventDate returns the calendar date used for date-scoped fingerprints.
// It prefers the explicit report date and falls back to the event timestamp
// (UTC) when upstream did not set one.
func (s *ScoredSignal) EventDate() string {
	if s.ReportDate != "" {
		return s.ReportDate
	}
	return time.Unix(s.EventTS, 0).UTC().Format("2006-01-02")
}
