package config

import "time"

// CacheConfig defines settings for the availability cache.  Backend is
// "redis" (shared by every instance) or "memory" (process-local, for a
// single instance running without Redis).  A redis backend with no Redis
// client disables caching.  TTL bounds the lifetime of an entry that was
// not invalidated by a mutation.  Prefix namespaces the keys in a shared
// Redis.
type CacheConfig struct {
    Enabled bool          `default:"true"`
    Backend string        `default:"redis"`
    TTL     time.Duration `default:"30s"`
    Prefix  string        `default:"cache"`
}
