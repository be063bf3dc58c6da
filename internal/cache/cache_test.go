package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/config"
)

func TestAvailabilityKey(t *testing.T) {
	key := AvailabilityKey(7, calendar.MustNew(2025, time.August, 20))
	assert.Equal(t, "availability:7:2025-08-20", key)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewRedis(config.CacheConfig{Enabled: true, Prefix: "test"}, rdb)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("test:k"))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry must expire with its TTL")

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Invalidate(ctx, "k"))
	assert.False(t, mr.Exists("test:k"))
}

func TestRedisCacheDisabled(t *testing.T) {
	c := NewRedis(config.CacheConfig{Enabled: false}, nil)
	assert.IsType(t, Nop{}, c)
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
	_, ok, _ := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestMemoryCache(t *testing.T) {
	now := time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Second))
	got, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), got)

	now = now.Add(time.Second)
	_, ok, _ = m.Get(ctx, "a")
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, m.Invalidate(ctx, "b"))
	_, ok, _ = m.Get(ctx, "b")
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "c", []byte("3"), 0))
	_, ok, _ = m.Get(ctx, "c")
	assert.False(t, ok, "non-positive TTL is not stored")
}

func TestInvalidateAdvancesGeneration(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	for name, c := range map[string]Cache{
		"redis":  NewRedis(config.CacheConfig{Enabled: true, Prefix: "test"}, rdb),
		"memory": NewMemory(),
	} {
		t.Run(name, func(t *testing.T) {
			gen, err := c.Generation(ctx, "k")
			require.NoError(t, err)
			assert.Zero(t, gen)

			old := Versioned("k", gen)
			require.NoError(t, c.Set(ctx, old, []byte("stale"), time.Minute))
			require.NoError(t, c.Invalidate(ctx, "k"))

			next, err := c.Generation(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, gen+1, next)
			assert.NotEqual(t, old, Versioned("k", next))

			_, ok, err := c.Get(ctx, Versioned("k", next))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
	assert.True(t, mr.Exists("test:gen:k"))
	assert.Positive(t, mr.TTL("test:gen:k"))
}
