package fingerprint

import (
	"testing"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/events"
)

func TestCompute_Stability(t *testing.T) {
	a := Compute("REGIONAL_RISK_SPIKE", "Europe|2026-02-10")
	b := Compute("REGIONAL_RISK_SPIKE", "Europe|2026-02-10")
	if a != b {
		t.Errorf("Compute() not stable: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("Compute() returned %d hex chars, want 64", len(a))
	}
}

func TestCompute_CrossTypeDistinct(t *testing.T) {
	a := Compute("REGIONAL_RISK_SPIKE", "2026-02-10")
	b := Compute("DAILY_DIGEST_SEED", "2026-02-10")
	if a == b {
		t.Errorf("equal stable keys across types must not share a fingerprint")
	}
}

func TestStableKey(t *testing.T) {
	tests := []struct {
		name    string
		sig     *events.ScoredSignal
		want    string
		wantErr bool
	}{
		{
			name: "high impact uses source event id",
			sig: &events.ScoredSignal{
				AlertType:     events.TypeHighImpactEvent,
				SourceEventID: "evt-123",
				Region:        "Europe",
			},
			want: "evt-123",
		},
		{
			name: "high impact without source event id",
			sig: &events.ScoredSignal{
				AlertType: events.TypeHighImpactEvent,
				Region:    "Europe",
			},
			wantErr: true,
		},
		{
			name: "regional spike is region plus date",
			sig: &events.ScoredSignal{
				AlertType:  events.TypeRegionalRiskSpike,
				Region:     "Europe",
				ReportDate: "2026-02-10",
			},
			want: "Europe|2026-02-10",
		},
		{
			name: "regional spike without region",
			sig: &events.ScoredSignal{
				AlertType:  events.TypeRegionalRiskSpike,
				ReportDate: "2026-02-10",
			},
			wantErr: true,
		},
		{
			name: "asset spike is region asset date",
			sig: &events.ScoredSignal{
				AlertType:  events.TypeAssetRiskSpike,
				Region:     "Europe",
				Asset:      "TTF",
				ReportDate: "2026-02-10",
			},
			want: "Europe|TTF|2026-02-10",
		},
		{
			name: "asset spike without asset",
			sig: &events.ScoredSignal{
				AlertType:  events.TypeAssetRiskSpike,
				Region:     "Europe",
				ReportDate: "2026-02-10",
			},
			wantErr: true,
		},
		{
			name: "digest seed uses report date",
			sig: &events.ScoredSignal{
				AlertType:  events.TypeDailyDigestSeed,
				ReportDate: "2026-02-10",
			},
			want: "2026-02-10",
		},
		{
			name: "digest seed without report date",
			sig: &events.ScoredSignal{
				AlertType: events.TypeDailyDigestSeed,
			},
			wantErr: true,
		},
		{
			name: "unknown alert type",
			sig: &events.ScoredSignal{
				AlertType: "SOMETHING_ELSE",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StableKey(tt.sig)
			if (err != nil) != tt.wantErr {
				t.Fatalf("StableKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("StableKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStableKey_DateFallback(t *testing.T) {
	// 2026-02-10T12:00:00Z
	sig := &events.ScoredSignal{
		AlertType: events.TypeRegionalRiskSpike,
		Region:    "Europe",
		EventTS:   1770724800,
	}
	got, err := StableKey(sig)
	if err != nil {
		t.Fatalf("StableKey() error = %v", err)
	}
	if got != "Europe|2026-02-10" {
		t.Errorf("StableKey() = %q, want %q", got, "Europe|2026-02-10")
	}
}

func TestForSignal_TwoIdenticalSignalsOneFingerprint(t *testing.T) {
	first := &events.ScoredSignal{
		AlertType:  events.TypeRegionalRiskSpike,
		Region:     "Europe",
		ReportDate: "2026-02-10",
		Severity:   4,
		Headline:   "Pipeline maintenance extended",
	}
	second := &events.ScoredSignal{
		AlertType:  events.TypeRegionalRiskSpike,
		Region:     "Europe",
		ReportDate: "2026-02-10",
		Severity:   5,
		Headline:   "Different headline, same logical event",
	}

	a, err := ForSignal(first)
	if err != nil {
		t.Fatalf("ForSignal() error = %v", err)
	}
	b, err := ForSignal(second)
	if err != nil {
		t.Fatalf("ForSignal() error = %v", err)
	}
	if a != b {
		t.Errorf("signals with identical stable keys must share a fingerprint")
	}
}
