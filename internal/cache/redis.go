package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/caregiver-booking/internal/config"
)

// generationTTL keeps a generation counter alive well past the lifetime of
// any entry written under it.  A counter that expires restarts at zero, and
// by then every entry of the older generations is gone.
const generationTTL = 48 * time.Hour

// Redis stores entries in Redis under a configurable prefix so several
// deployments can share one instance.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis returns a Redis cache.  When caching is disabled or no client
// is available it returns Nop so callers degrade gracefully.
func NewRedis(cfg config.CacheConfig, rdb *redis.Client) Cache {
	if !cfg.Enabled || rdb == nil {
		return Nop{}
	}
	return &Redis{rdb: rdb, prefix: cfg.Prefix}
}

func (c *Redis) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	bs, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bs, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.rdb.SetEx(ctx, c.key(key), val, ttl).Err()
}

func (c *Redis) genKey(k string) string { return c.key("gen:" + k) }

// Invalidate deletes the keys and advances their generations in one
// MULTI/EXEC.
func (c *Redis) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Del(ctx, c.key(k))
			pipe.Incr(ctx, c.genKey(k))
			pipe.Expire(ctx, c.genKey(k), generationTTL)
		}
		return nil
	})
	return err
}

func (c *Redis) Generation(ctx context.Context, key string) (uint64, error) {
	n, err := c.rdb.Get(ctx, c.genKey(key)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
