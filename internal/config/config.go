// Package config provides configuration parsing and validation for the
// dispatch engine.
package config

import (
	"fmt"
	"time"
)

// Digest periods accepted by the aggregator.
const (
	DigestDaily  = "daily"
	DigestHourly = "hourly"
)

// Config holds all configuration parameters for the dispatch engine.
type Config struct {
	PostgresDSN string
	RedisAddr   string

	// Signal intake
	KafkaBrokers    string
	SignalsTopic    string
	ConsumerGroupID string

	// Generation gates: minimum severity per alert type. Types absent from
	// the map use SeverityFloorDefault.
	SeverityFloorDefault int
	SeverityFloors       map[string]int

	// Delivery execution
	MaxAttempts        int
	RetryBaseSeconds   int
	RetryMaxSeconds    int
	SendTimeoutSeconds int
	MaxSendPerRun      int

	// Per-channel rate limits in sends per minute; 0 means unlimited.
	RateLimitEmailPerMinute int
	RateLimitChatPerMinute  int
	RateLimitSMSPerMinute   int

	// Staged rollout: when non-empty, only these user IDs are claimed.
	SendAllowlistUserIDs []string

	// Digest aggregation
	DigestPeriod string

	// Admin API
	AdminToken string
	Port       string
}

// Validate checks that all required configuration fields are set and have
// valid values. Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max-attempts must be positive")
	}
	if c.RetryBaseSeconds <= 0 {
		return fmt.Errorf("retry-base-seconds must be positive")
	}
	if c.RetryMaxSeconds < c.RetryBaseSeconds {
		return fmt.Errorf("retry-max-seconds must be >= retry-base-seconds")
	}
	if c.SendTimeoutSeconds <= 0 {
		return fmt.Errorf("send-timeout-seconds must be positive")
	}
	if c.MaxSendPerRun <= 0 {
		return fmt.Errorf("max-send-per-run must be positive")
	}
	if c.RateLimitEmailPerMinute < 0 || c.RateLimitChatPerMinute < 0 || c.RateLimitSMSPerMinute < 0 {
		return fmt.Errorf("rate limits cannot be negative")
	}
	if c.DigestPeriod != DigestDaily && c.DigestPeriod != DigestHourly {
		return fmt.Errorf("digest-period must be %q or %q", DigestDaily, DigestHourly)
	}
	return nil
}

// RetryBase returns the backoff base as a duration.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseSeconds) * time.Second
}

// RetryMax returns the backoff ceiling as a duration.
func (c *Config) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxSeconds) * time.Second
}

// SendTimeout returns the per-send channel call timeout as a duration.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// RateLimitFor returns the sends-per-minute cap for a channel (0 = unlimited).
func (c *Config) RateLimitFor(channel string) int {
	switch channel {
	case "email":
		return c.RateLimitEmailPerMinute
	case "chat":
		return c.RateLimitChatPerMinute
	case "sms":
		return c.RateLimitSMSPerMinute
	default:
		return 0
	}
}
