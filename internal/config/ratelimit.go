package config

import "time"

// RateLimitConfig configures the Redis token bucket applied to the
// reservation and webhook routes.
type RateLimitConfig struct {
    Enabled        bool          `default:"true"`
    Capacity       int           `default:"60"`
    RefillTokens   int           `split_words:"true" default:"1"`
    RefillInterval time.Duration `split_words:"true" default:"1s"`
    TTL            time.Duration `default:"10m"`
    KeyStrategy    string        `split_words:"true" default:"ip_user_route"`
    Prefix         string        `default:"rl"`
    Debug          bool          `default:"false"`
}

// normalize clamps values that would make the bucket misbehave.
func (c RateLimitConfig) normalize() RateLimitConfig {
    if c.Capacity < 1 { c.Capacity = 1 }
    if c.RefillTokens < 1 { c.RefillTokens = 1 }
    if c.RefillInterval <= 0 { c.RefillInterval = time.Second }
    minTTL := 5 * c.RefillInterval
    if c.TTL < minTTL { c.TTL = minTTL }
    return c
}
