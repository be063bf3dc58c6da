package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/cache"
	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
)

// WindowAvailability is the real-time capacity of one slot window.
// ActiveHoldCount is the number of spots claimed by live holds.
type WindowAvailability struct {
	Window            calendar.Window `json:"window"`
	TotalCapacity     int             `json:"total_capacity"`
	CommittedCount    int             `json:"committed_count"`
	ActiveHoldCount   int             `json:"active_hold_count"`
	RealTimeAvailable int             `json:"real_time_available"`
}

// summarize combines a slot with the holds of its key.  Holds that are not
// live at now are ignored whether or not a sweep has marked them EXPIRED.
func summarize(slot model.Slot, holds []model.Hold, now time.Time) WindowAvailability {
	held := 0
	for _, h := range holds {
		if h.SlotWindow == slot.Window && h.LiveAt(now) {
			held += h.Spots
		}
	}
	avail := slot.TotalCapacity - slot.CommittedCount - held
	if avail < 0 {
		avail = 0
	}
	return WindowAvailability{
		Window:            slot.Window,
		TotalCapacity:     slot.TotalCapacity,
		CommittedCount:    slot.CommittedCount,
		ActiveHoldCount:   held,
		RealTimeAvailable: avail,
	}
}

// pickSlot finds the slot a request draws from.  A zero window selects the
// date's only slot.
func pickSlot(slots []model.Slot, w calendar.Window) (model.Slot, error) {
	if w.IsZero() {
		switch len(slots) {
		case 0:
			return model.Slot{}, wrapCapacity("no slot published for this date")
		case 1:
			return slots[0], nil
		default:
			return model.Slot{}, validation("window is required when a date has several slots")
		}
	}
	for _, s := range slots {
		if s.Window.Contains(w) {
			return s, nil
		}
	}
	return model.Slot{}, wrapCapacity("no slot covers " + w.String())
}

// AvailabilityCalculator derives remaining capacity from slot totals,
// committed counts and live holds.  Results are cached per caregiver and
// date until a mutation invalidates them or the earliest live hold expires.
type AvailabilityCalculator struct {
	deps Deps
	ttl  time.Duration
}

func NewAvailabilityCalculator(d Deps, cacheTTL time.Duration) *AvailabilityCalculator {
	return &AvailabilityCalculator{deps: d.withDefaults(), ttl: cacheTTL}
}

type cachedAvailability struct {
	Windows []WindowAvailability `json:"windows"`
}

// GetRealTimeAvailability returns one entry per slot window of the date,
// ordered by window start.  It is read-only.
func (a *AvailabilityCalculator) GetRealTimeAvailability(ctx context.Context, caregiverID uint64, date calendar.Date) ([]WindowAvailability, error) {
	if caregiverID == 0 {
		return nil, validation("caregiver id is required")
	}
	if date.IsZero() {
		return nil, validation("date is required")
	}
	if err := a.deps.requireCaregiver(ctx, caregiverID); err != nil {
		return nil, err
	}

	// The generation is read before the store so that a mutation committing
	// after this point moves readers to a newer key than the one written below.
	base := cache.AvailabilityKey(caregiverID, date)
	useCache := true
	gen, err := a.deps.Cache.Generation(ctx, base)
	if err != nil {
		a.deps.Log.Warn("availability cache generation read failed", zap.String("key", base), zap.Error(err))
		useCache = false
	}
	key := cache.Versioned(base, gen)
	if useCache {
		if bs, ok, err := a.deps.Cache.Get(ctx, key); err != nil {
			a.deps.Log.Warn("availability cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			var cached cachedAvailability
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached.Windows, nil
			}
		}
	}

	now := a.deps.now()
	var slots []model.Slot
	var holds []model.Hold
	err = a.deps.Store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		if slots, err = tx.Slots().ListByCaregiverDate(ctx, caregiverID, date); err != nil {
			return err
		}
		holds, err = tx.Holds().ListActive(ctx, caregiverID, date)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]WindowAvailability, 0, len(slots))
	for _, s := range slots {
		out = append(out, summarize(s, holds, now))
	}

	// The entry must not outlive the earliest live hold: once it expires
	// the capacity is back without any mutation to trigger invalidation.
	ttl := a.ttl
	for _, h := range holds {
		if h.LiveAt(now) {
			if left := h.ExpiresAt.Sub(now); left < ttl {
				ttl = left
			}
		}
	}
	if useCache && ttl > 0 {
		if bs, err := json.Marshal(cachedAvailability{Windows: out}); err == nil {
			if err := a.deps.Cache.Set(ctx, key, bs, ttl); err != nil {
				a.deps.Log.Warn("availability cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return out, nil
}
