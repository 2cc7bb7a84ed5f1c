package executor

import (
	"testing"
	"time"
)

func TestBackoffPolicy_Next(t *testing.T) {
	p := BackoffPolicy{Base: time.Minute, Max: time.Hour}

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{10, time.Hour}, // capped
	}

	for _, tt := range tests {
		got := p.Next(tt.attempt)
		// Jitter is ±25% of the capped exponential value.
		min := time.Duration(float64(tt.base) * 0.75)
		max := time.Duration(float64(tt.base) * 1.25)
		if got < min || got > max {
			t.Errorf("Next(%d) = %v, want within [%v, %v]", tt.attempt, got, min, max)
		}
	}
}

func TestBackoffPolicy_NeverNegative(t *testing.T) {
	p := BackoffPolicy{Base: time.Millisecond, Max: time.Millisecond}
	for attempt := 0; attempt < 20; attempt++ {
		if got := p.Next(attempt); got < 0 {
			t.Fatalf("Next(%d) = %v, must not be negative", attempt, got)
		}
	}
}

func TestChannelLimiters_Allow(t *testing.T) {
	limiters := NewChannelLimiters(map[string]int{"sms": 2, "email": 0})

	// Burst of 2, then denied.
	if !limiters.Allow("sms") || !limiters.Allow("sms") {
		t.Fatal("first two sms sends should be allowed")
	}
	if limiters.Allow("sms") {
		t.Error("third sms send inside the same minute should be denied")
	}

	// Zero means unlimited, as does an unconfigured channel.
	for i := 0; i < 100; i++ {
		if !limiters.Allow("email") {
			t.Fatal("email is unlimited, send should be allowed")
		}
		if !limiters.Allow("chat") {
			t.Fatal("unconfigured channel should be allowed")
		}
	}
}
