package executor

import (
	"time"

	"golang.org/x/time/rate"
)

// ChannelLimiters caps sends per minute per channel. A channel with no
// limiter configured is unlimited.
type ChannelLimiters struct {
	limiters map[string]*rate.Limiter
}

// NewChannelLimiters builds limiters from a channel -> sends-per-minute
// map. Zero or negative values mean unlimited.
func NewChannelLimiters(perMinute map[string]int) *ChannelLimiters {
	limiters := make(map[string]*rate.Limiter)
	for channel, n := range perMinute {
		if n > 0 {
			limiters[channel] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		}
	}
	return &ChannelLimiters{limiters: limiters}
}

// Allow reports whether a send on the channel may proceed now. A denied
// send is deferred to a later run, never failed.
func (c *ChannelLimiters) Allow(channel string) bool {
	limiter, ok := c.limiters[channel]
	if !ok {
		return true
	}
	return limiter.Allow()
}
