package config

// This file defines a Redis client constructor for the application.  Redis is
// used for the availability cache, distributed rate limiting and the refund
// task queue.  If connection fails during startup, the function returns nil
// and callers should degrade gracefully by disabling caching and rate
// limiting.

import (
    "context"
    "crypto/tls"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisConfig is read from REDIS_ADDR, REDIS_PASSWORD, REDIS_DB and REDIS_TLS.
type RedisConfig struct {
    Addr     string `default:"localhost:6379"`
    Password string
    DB       int  `default:"0"`
    TLS      bool `default:"false"`
}

// TLSConfig returns the client TLS settings, or nil when TLS is off.
func (c RedisConfig) TLSConfig() *tls.Config {
    if !c.TLS {
        return nil
    }
    return &tls.Config{MinVersion: tls.VersionTLS12}
}

// NewRedisClient instantiates a Redis client and pings it.
// The returned client may be nil if a connection cannot be established.
func NewRedisClient(c RedisConfig) *redis.Client {
    client := redis.NewClient(&redis.Options{
        Addr:      c.Addr,
        Password:  c.Password,
        DB:        c.DB,
        TLSConfig: c.TLSConfig(),
    })
    // Ping the server with a short timeout.  Return nil on failure.
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil
    }
    return client
}
