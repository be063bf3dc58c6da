// Package cache provides the read-through cache capability injected into
// the availability calculator.  Entries are invalidated explicitly after
// every slot, hold or booking mutation commits; the TTL only bounds how
// long an entry can outlive a missed invalidation.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
)

// Cache is the capability {get, set, invalidate}.
//
// Invalidate advances the generation of each key.  A reader captures the
// generation before loading from the store and reads and writes under
// Versioned(key, gen), so a value loaded before a concurrent mutation lands
// under a generation nobody reads any more.
type Cache interface {
	// Get returns the stored bytes and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
	// Generation is the number of invalidations key has seen.
	Generation(ctx context.Context, key string) (uint64, error)
}

// Versioned names the entry of key at generation gen.
func Versioned(key string, gen uint64) string {
	return fmt.Sprintf("%s#%d", key, gen)
}

// AvailabilityKey names the cached availability of one caregiver on one date.
func AvailabilityKey(caregiverID uint64, date calendar.Date) string {
	return fmt.Sprintf("availability:%d:%s", caregiverID, date)
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Invalidate(context.Context, ...string) error              { return nil }
func (Nop) Generation(context.Context, string) (uint64, error)       { return 0, nil }
