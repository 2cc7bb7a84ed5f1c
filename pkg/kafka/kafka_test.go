package kafka

import "testing"

func TestParseBrokers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "single broker", input: "localhost:9092", expected: []string{"localhost:9092"}},
		{name: "multiple with whitespace", input: "b1:9092, b2:9092 ,b3:9092", expected: []string{"b1:9092", "b2:9092", "b3:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseBrokers(tt.input)
			if len(got) != len(tt.expected) {
				t.Fatalf("ParseBrokers(%q) = %v, want %v", tt.input, got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("ParseBrokers(%q) = %v, want %v", tt.input, got, tt.expected)
				}
			}
		})
	}
}

func TestValidateConsumerParams(t *testing.T) {
	tests := []struct {
		name    string
		brokers string
		topic   string
		groupID string
		wantErr bool
	}{
		{name: "all set", brokers: "localhost:9092", topic: "scored.signals", groupID: "dispatch", wantErr: false},
		{name: "missing brokers", brokers: "", topic: "scored.signals", groupID: "dispatch", wantErr: true},
		{name: "missing topic", brokers: "localhost:9092", topic: "", groupID: "dispatch", wantErr: true},
		{name: "missing group", brokers: "localhost:9092", topic: "scored.signals", groupID: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConsumerParams(tt.brokers, tt.topic, tt.groupID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConsumerParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewReaderConfig(t *testing.T) {
	cfg := NewReaderConfig([]string{"localhost:9092"}, "scored.signals", "dispatch")
	if cfg.Topic != "scored.signals" || cfg.GroupID != "dispatch" {
		t.Errorf("reader config topic/group = %q/%q", cfg.Topic, cfg.GroupID)
	}
	if cfg.MaxWait != MaxPollWait {
		t.Errorf("MaxWait = %v, want %v", cfg.MaxWait, MaxPollWait)
	}
	if cfg.CommitInterval != CommitInterval {
		t.Errorf("CommitInterval = %v, want %v", cfg.CommitInterval, CommitInterval)
	}
}
