package config

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
    t.Setenv("JWT_SECRET", "secret")
    t.Setenv("DB_USER", "app")
    t.Setenv("DB_NAME", "care")

    c, err := Load()
    require.NoError(t, err)
    assert.Equal(t, "8080", c.Port)
    assert.Equal(t, "app", c.DB.User)
    assert.Equal(t, 25, c.DB.MaxOpenConns)
    assert.Equal(t, 15*time.Minute, c.Booking.HoldTTL)
    assert.Equal(t, "0.15", c.Booking.CommissionRate)
    assert.Equal(t, 5*time.Minute, c.Booking.ReconcileSafetyWindow)
    assert.Equal(t, "@every 5m", c.Jobs.SweepSchedule)
    assert.Equal(t, "booking.events", c.RabbitMQ.Exchange)
    assert.Equal(t, "localhost:6379", c.Redis.Addr)
    assert.True(t, c.Cache.Enabled)
    assert.Equal(t, "redis", c.Cache.Backend)
}

func TestLoadOverrides(t *testing.T) {
    t.Setenv("JWT_SECRET", "secret")
    t.Setenv("DB_USER", "app")
    t.Setenv("DB_NAME", "care")
    t.Setenv("BOOKING_HOLD_TTL", "10m")
    t.Setenv("BOOKING_TIMEZONE", "Europe/Berlin")
    t.Setenv("RATE_LIMIT_CAPACITY", "0")
    t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
    t.Setenv("RATE_LIMIT_TTL", "1s")
    t.Setenv("CACHE_BACKEND", " Memory ")

    c, err := Load()
    require.NoError(t, err)
    assert.Equal(t, 10*time.Minute, c.Booking.HoldTTL)
    loc, err := c.Booking.Location()
    require.NoError(t, err)
    assert.Equal(t, "Europe/Berlin", loc.String())
    assert.Equal(t, 1, c.RateLimit.Capacity, "capacity is clamped to at least one token")
    assert.Equal(t, 10*time.Second, c.RateLimit.TTL, "TTL is at least five refill intervals")
    assert.Equal(t, "memory", c.Cache.Backend)
}

func TestLoadRejectsBadValues(t *testing.T) {
    t.Setenv("JWT_SECRET", "secret")
    t.Setenv("DB_USER", "app")
    t.Setenv("DB_NAME", "care")
    t.Setenv("BOOKING_TIMEZONE", "Mars/Olympus")
    _, err := Load()
    assert.Error(t, err)
}

func TestLoadRejectsUnknownCacheBackend(t *testing.T) {
    t.Setenv("JWT_SECRET", "secret")
    t.Setenv("DB_USER", "app")
    t.Setenv("DB_NAME", "care")
    t.Setenv("CACHE_BACKEND", "memcached")
    _, err := Load()
    assert.ErrorContains(t, err, "CACHE_BACKEND")
}
