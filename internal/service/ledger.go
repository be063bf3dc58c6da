package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
)

// sweepBatch bounds the holds expired per transaction.
const sweepBatch = 500

// HoldRequest asks for spots on a caregiver's date.  A zero Window selects
// the date's only slot.
type HoldRequest struct {
	CaregiverID uint64
	Date        calendar.Date
	Window      calendar.Window
	Spots       int
	RequesterID uint64
}

// Ledger manages reservation holds.  Every capacity check and mutation runs
// under the store's slot lock for (caregiver, date), so two holds for the
// same key are serialised and the first committer wins the last spot.
type Ledger struct {
	deps Deps
	ttl  time.Duration
}

func NewLedger(d Deps, holdTTL time.Duration) *Ledger {
	return &Ledger{deps: d.withDefaults(), ttl: holdTTL}
}

// TTL is the lifetime of a new hold.
func (l *Ledger) TTL() time.Duration { return l.ttl }

// Now is the ledger's clock.
func (l *Ledger) Now() time.Time { return l.deps.now() }

// CreateHold re-checks remaining capacity and inserts the hold in one
// critical section.  It fails with ErrCapacityExceeded when fewer than
// req.Spots are left.
func (l *Ledger) CreateHold(ctx context.Context, req HoldRequest) (model.Hold, error) {
	switch {
	case req.CaregiverID == 0:
		return model.Hold{}, validation("caregiver id is required")
	case req.RequesterID == 0:
		return model.Hold{}, validation("requester id is required")
	case req.Date.IsZero():
		return model.Hold{}, validation("date is required")
	case req.Spots < 1:
		return model.Hold{}, validation("spots must be at least 1")
	}
	if !req.Window.IsZero() {
		if _, err := calendar.NewWindow(req.Window.Start, req.Window.End); err != nil {
			return model.Hold{}, validation("%v", err)
		}
	}
	if err := l.deps.requireCaregiver(ctx, req.CaregiverID); err != nil {
		return model.Hold{}, err
	}

	now := l.deps.now()
	var hold model.Hold
	err := l.deps.Store.WithSlotLock(ctx, req.CaregiverID, req.Date, func(tx repository.Tx) error {
		holds, err := l.expireKeyTx(ctx, tx, req.CaregiverID, req.Date, now)
		if err != nil {
			return err
		}
		slots, err := tx.Slots().ListByCaregiverDate(ctx, req.CaregiverID, req.Date)
		if err != nil {
			return err
		}
		slot, err := pickSlot(slots, req.Window)
		if err != nil {
			return err
		}
		if avail := summarize(slot, holds, now).RealTimeAvailable; avail < req.Spots {
			return wrapCapacity(fmt.Sprintf("%d spots requested, %d available", req.Spots, avail))
		}
		hold = model.Hold{
			ID:          uuid.NewString(),
			CaregiverID: req.CaregiverID,
			Date:        req.Date,
			SlotWindow:  slot.Window,
			RequesterID: req.RequesterID,
			Spots:       req.Spots,
			Status:      model.HoldActive,
			CreatedAt:   now,
			ExpiresAt:   now.Add(l.ttl),
			UpdatedAt:   now,
		}
		return tx.Holds().Insert(ctx, hold)
	})
	if err != nil {
		return model.Hold{}, err
	}
	l.deps.invalidate(ctx, hold.Key())
	l.deps.Log.Info("hold created",
		zap.String("hold_id", hold.ID),
		zap.Uint64("caregiver_id", hold.CaregiverID),
		zap.Stringer("date", hold.Date),
		zap.Stringer("window", hold.SlotWindow),
		zap.Int("spots", hold.Spots),
		zap.Time("expires_at", hold.ExpiresAt))
	return hold, nil
}

// expireKeyTx marks the key's ACTIVE holds past expiry as EXPIRED and
// returns the ones still live.
func (l *Ledger) expireKeyTx(ctx context.Context, tx repository.Tx, caregiverID uint64, date calendar.Date, now time.Time) ([]model.Hold, error) {
	holds, err := tx.Holds().ListActive(ctx, caregiverID, date)
	if err != nil {
		return nil, err
	}
	live := holds[:0]
	for _, h := range holds {
		if h.LiveAt(now) {
			live = append(live, h)
			continue
		}
		if _, err := tx.Holds().Transition(ctx, h.ID, model.HoldActive, model.HoldExpired, now); err != nil {
			return nil, err
		}
	}
	return live, nil
}

// GetHold returns a hold.  An ACTIVE hold past its expiry is reported as
// EXPIRED even if the sweep has not reached it.
func (l *Ledger) GetHold(ctx context.Context, id string) (model.Hold, error) {
	var h model.Hold
	err := l.deps.Store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		h, err = tx.Holds().Get(ctx, id)
		return err
	})
	if err != nil {
		return model.Hold{}, notFound(err, "hold "+id)
	}
	if h.Status == model.HoldActive && !h.LiveAt(l.deps.now()) {
		h.Status = model.HoldExpired
	}
	return h, nil
}

// ConsumeHold converts an ACTIVE, unexpired hold into committed capacity:
// the hold becomes CONSUMED and the slot's committed count grows by its
// spots.  Any other state fails with ErrHoldExpired.
func (l *Ledger) ConsumeHold(ctx context.Context, id string) error {
	h, err := l.GetHold(ctx, id)
	if err != nil {
		return err
	}
	now := l.deps.now()
	err = l.deps.Store.WithSlotLock(ctx, h.CaregiverID, h.Date, func(tx repository.Tx) error {
		cur, err := tx.Holds().Get(ctx, id)
		if err != nil {
			return notFound(err, "hold "+id)
		}
		return l.consumeTx(ctx, tx, cur, now)
	})
	if err != nil {
		return err
	}
	l.deps.invalidate(ctx, h.Key())
	l.deps.Log.Info("hold consumed", zap.String("hold_id", id), zap.Int("spots", h.Spots))
	return nil
}

// consumeTx must run under the slot lock of h's key.  Expiry is checked
// against now regardless of the stored status.
func (l *Ledger) consumeTx(ctx context.Context, tx repository.Tx, h model.Hold, now time.Time) error {
	if h.Status != model.HoldActive {
		return fmt.Errorf("%w: hold %s is %s", ErrHoldExpired, h.ID, h.Status)
	}
	if !h.LiveAt(now) {
		return fmt.Errorf("%w: hold %s expired at %s", ErrHoldExpired, h.ID, h.ExpiresAt.Format(time.RFC3339))
	}
	ok, err := tx.Holds().Transition(ctx, h.ID, model.HoldActive, model.HoldConsumed, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: hold %s changed concurrently", ErrHoldExpired, h.ID)
	}
	err = tx.Slots().AddCommitted(ctx, h.CaregiverID, h.Date, h.SlotWindow, h.Spots)
	if err != nil {
		// Callers that keep the unit of work alive must not see a CONSUMED
		// hold without its committed spots.
		if _, rerr := tx.Holds().Transition(ctx, h.ID, model.HoldConsumed, model.HoldActive, h.UpdatedAt); rerr != nil {
			return rerr
		}
	}
	switch {
	case errors.Is(err, repository.ErrCapacityConflict):
		return wrapCapacity("committed count would exceed total capacity")
	case errors.Is(err, repository.ErrNotFound):
		return notFound(err, "slot "+h.SlotWindow.String())
	}
	return err
}

// ReleaseHold frees an ACTIVE hold.  It is a no-op for holds already in a
// terminal state and fails with ErrNotFound for unknown ids.
func (l *Ledger) ReleaseHold(ctx context.Context, id string) error {
	h, err := l.GetHold(ctx, id)
	if err != nil {
		return err
	}
	now := l.deps.now()
	released := false
	err = l.deps.Store.WithSlotLock(ctx, h.CaregiverID, h.Date, func(tx repository.Tx) error {
		var err error
		released, err = tx.Holds().Transition(ctx, id, model.HoldActive, model.HoldReleased, now)
		return err
	})
	if err != nil {
		return err
	}
	if released {
		l.deps.invalidate(ctx, h.Key())
		l.deps.Log.Info("hold released", zap.String("hold_id", id), zap.Int("spots", h.Spots))
	}
	return nil
}

// SweepExpired marks every ACTIVE hold with expiresAt <= now as EXPIRED and
// returns how many it moved.  Expiring only frees capacity, so it does not
// need the slot lock; the compare-and-set on status keeps it safe against
// a concurrent consume or release.
func (l *Ledger) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	total := 0
	keys := map[model.SlotKey]struct{}{}
	for {
		var moved []model.Hold
		batch := 0
		err := l.deps.Store.WithTx(ctx, func(tx repository.Tx) error {
			moved = moved[:0]
			holds, err := tx.Holds().ListExpired(ctx, now, sweepBatch)
			if err != nil {
				return err
			}
			batch = len(holds)
			for _, h := range holds {
				ok, err := tx.Holds().Transition(ctx, h.ID, model.HoldActive, model.HoldExpired, now)
				if err != nil {
					return err
				}
				if ok {
					moved = append(moved, h)
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += len(moved)
		for _, h := range moved {
			keys[h.Key()] = struct{}{}
		}
		if batch < sweepBatch {
			break
		}
	}
	if len(keys) > 0 {
		list := make([]model.SlotKey, 0, len(keys))
		for k := range keys {
			list = append(list, k)
		}
		l.deps.invalidate(ctx, list...)
	}
	if total > 0 {
		l.deps.Log.Info("expired holds swept", zap.Int("count", total), zap.Int("slots", len(keys)))
	}
	return total, nil
}
