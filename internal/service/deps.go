package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/cache"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
)

// Deps are the collaborators shared by every component of the core.
type Deps struct {
	Store     repository.Store
	Directory repository.Directory
	Cache     cache.Cache
	Log       *zap.Logger
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Cache == nil {
		d.Cache = cache.Nop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) now() time.Time { return d.Now().UTC() }

// invalidate drops the cached availability of the given keys.  It runs
// after the mutation committed; a failure only delays freshness until the
// entry's TTL, so it is logged rather than returned.
func (d Deps) invalidate(ctx context.Context, keys ...model.SlotKey) {
	if len(keys) == 0 {
		return
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, cache.AvailabilityKey(k.CaregiverID, k.Date))
	}
	if err := d.Cache.Invalidate(ctx, names...); err != nil {
		d.Log.Warn("availability cache invalidation failed", zap.Strings("keys", names), zap.Error(err))
	}
}

// requireCaregiver maps an unknown caregiver to ErrNotFound.
func (d Deps) requireCaregiver(ctx context.Context, id uint64) error {
	ok, err := d.Directory.CaregiverExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(repository.ErrNotFound, "caregiver")
	}
	return nil
}
