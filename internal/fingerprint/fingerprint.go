// Package fingerprint computes the stable identity key for a candidate
// alert. The fingerprint is the dedupe boundary: no two alert events of the
// same type may share one, so the derivation must be deterministic and free
// of I/O.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/events"
)

// Compute returns the fingerprint for an alert type and its stable key.
// The alert type is mixed into the digest so equal stable keys across types
// still produce distinct fingerprints.
func Compute(alertType, stableKey string) string {
	sum := sha256.Sum256([]byte(alertType + "|" + stableKey))
	return hex.EncodeToString(sum[:])
}

// StableKey derives the type-specific stable key for a scored signal:
//   - HIGH_IMPACT_EVENT: the upstream source-event ID (one alert per
//     discrete happening, ever)
//   - REGIONAL_RISK_SPIKE: region + calendar date (one per region per day)
//   - ASSET_RISK_SPIKE: region + asset + calendar date
//   - DAILY_DIGEST_SEED: the reporting date of the underlying storage data
func StableKey(sig *events.ScoredSignal) (string, error) {
	switch sig.AlertType {
	case events.TypeHighImpactEvent:
		if sig.SourceEventID == "" {
			return "", fmt.Errorf("high impact event requires a source_event_id")
		}
		return sig.SourceEventID, nil
	case events.TypeRegionalRiskSpike:
		if sig.Region == "" {
			return "", fmt.Errorf("regional risk spike requires a region")
		}
		return sig.Region + "|" + sig.EventDate(), nil
	case events.TypeAssetRiskSpike:
		if sig.Region == "" || sig.Asset == "" {
			return "", fmt.Errorf("asset risk spike requires a region and an asset")
		}
		return sig.Region + "|" + sig.Asset + "|" + sig.EventDate(), nil
	case events.TypeDailyDigestSeed:
		if sig.ReportDate == "" {
			return "", fmt.Errorf("daily digest seed requires a report_date")
		}
		return sig.ReportDate, nil
	default:
		return "", fmt.Errorf("unknown alert type: %q", sig.AlertType)
	}
}

// ForSignal computes the fingerprint for a scored signal.
func ForSignal(sig *events.ScoredSignal) (string, error) {
	key, err := StableKey(sig)
	if err != nil {
		return "", err
	}
	return Compute(sig.AlertType, key), nil
}
