package model

import (
    "fmt"
    "time"

    "github.com/iliyamo/caregiver-booking/internal/calendar"
)

// Slot is a caregiver's bookable capacity for one calendar date and time
// window.  A caregiver may publish one full-day slot or several
// non-overlapping windows for the same date.
//
// Fields:
//  CaregiverID    – caregiver who owns the capacity.
//  Date           – local calendar date of the slot.
//  Window         – minutes of the day the capacity applies to.
//  TotalCapacity  – number of spots (children) the caregiver accepts.
//  CommittedCount – spots taken by bookings; never above TotalCapacity.
//  UpdatedAt      – last modification timestamp.
type Slot struct {
    CaregiverID    uint64          `json:"caregiver_id"`    // slots.caregiver_id
    Date           calendar.Date   `json:"date"`            // slots.slot_date
    Window         calendar.Window `json:"window"`          // slots.start_minute / end_minute
    TotalCapacity  int             `json:"total_capacity"`  // slots.total_capacity
    CommittedCount int             `json:"committed_count"` // slots.committed_count
    UpdatedAt      time.Time       `json:"updated_at"`      // slots.updated_at
}

// Key returns the lock and cache key the slot belongs to.
func (s Slot) Key() SlotKey { return SlotKey{CaregiverID: s.CaregiverID, Date: s.Date} }

// SlotKey identifies every slot of one caregiver on one date.  All
// capacity mutations for a key are serialised.
type SlotKey struct {
    CaregiverID uint64
    Date        calendar.Date
}

func (k SlotKey) String() string { return fmt.Sprintf("%d:%s", k.CaregiverID, k.Date) }
