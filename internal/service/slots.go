package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
)

// SlotInput publishes or resizes one slot.  A zero Window means the whole
// day.
type SlotInput struct {
	CaregiverID   uint64          `json:"-"`
	Date          calendar.Date   `json:"date"`
	Window        calendar.Window `json:"window"`
	TotalCapacity int             `json:"total_capacity"`
}

// SlotManager maintains caregiver capacity.
type SlotManager struct {
	deps Deps
}

func NewSlotManager(d Deps) *SlotManager { return &SlotManager{deps: d.withDefaults()} }

// UpsertSlot creates the slot or changes its total capacity.  Windows of
// one date must not overlap, and the total cannot drop below what bookings
// and live holds already claim.
func (m *SlotManager) UpsertSlot(ctx context.Context, in SlotInput) (WindowAvailability, error) {
	if in.Window.IsZero() {
		in.Window = calendar.FullDay
	}
	switch {
	case in.CaregiverID == 0:
		return WindowAvailability{}, validation("caregiver id is required")
	case in.Date.IsZero():
		return WindowAvailability{}, validation("date is required")
	case in.TotalCapacity < 0:
		return WindowAvailability{}, validation("total capacity must not be negative")
	}
	if _, err := calendar.NewWindow(in.Window.Start, in.Window.End); err != nil {
		return WindowAvailability{}, validation("%v", err)
	}
	if err := m.deps.requireCaregiver(ctx, in.CaregiverID); err != nil {
		return WindowAvailability{}, err
	}

	now := m.deps.now()
	var out WindowAvailability
	err := m.deps.Store.WithSlotLock(ctx, in.CaregiverID, in.Date, func(tx repository.Tx) error {
		slots, err := tx.Slots().ListByCaregiverDate(ctx, in.CaregiverID, in.Date)
		if err != nil {
			return err
		}
		cur := model.Slot{CaregiverID: in.CaregiverID, Date: in.Date, Window: in.Window}
		for _, s := range slots {
			if s.Window == in.Window {
				cur = s
				continue
			}
			if s.Window.Overlaps(in.Window) {
				return validation("window %s overlaps published slot %s", in.Window, s.Window)
			}
		}
		holds, err := tx.Holds().ListActive(ctx, in.CaregiverID, in.Date)
		if err != nil {
			return err
		}
		claimed := summarize(cur, holds, now)
		if need := claimed.CommittedCount + claimed.ActiveHoldCount; in.TotalCapacity < need {
			return wrapCapacity(fmt.Sprintf("%d spots are booked or held", need))
		}
		cur.TotalCapacity = in.TotalCapacity
		cur.UpdatedAt = now
		if err := tx.Slots().Upsert(ctx, cur); err != nil {
			if errors.Is(err, repository.ErrCapacityConflict) {
				return wrapCapacity("capacity below committed count")
			}
			return err
		}
		out = summarize(cur, holds, now)
		return nil
	})
	if err != nil {
		return WindowAvailability{}, err
	}
	m.deps.invalidate(ctx, model.SlotKey{CaregiverID: in.CaregiverID, Date: in.Date})
	m.deps.Log.Info("slot published",
		zap.Uint64("caregiver_id", in.CaregiverID),
		zap.Stringer("date", in.Date),
		zap.Stringer("window", in.Window),
		zap.Int("total_capacity", in.TotalCapacity))
	return out, nil
}
