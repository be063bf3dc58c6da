package model

import (
    "time"

    "github.com/iliyamo/caregiver-booking/internal/calendar"
)

// HoldStatus is the lifecycle state of a ReservationHold.
type HoldStatus string

const (
    HoldActive   HoldStatus = "ACTIVE"
    HoldConsumed HoldStatus = "CONSUMED"
    HoldExpired  HoldStatus = "EXPIRED"
    HoldReleased HoldStatus = "RELEASED"
)

// Terminal reports whether no further transition is possible.
func (s HoldStatus) Terminal() bool { return s != HoldActive }

// Hold is a temporary claim against a slot's remaining capacity made while
// the parent goes through checkout.  Holds count against capacity only
// while ACTIVE and before ExpiresAt, whether or not a sweep has run.
//
// Fields:
//  ID          – generated UUID returned to the client.
//  CaregiverID – caregiver whose slot is held.
//  Date        – slot date.
//  SlotWindow  – window of the slot the spots are drawn from.
//  RequesterID – parent who created the hold.
//  Spots       – spots held as one atomic unit.
//  Status      – ACTIVE, CONSUMED, EXPIRED or RELEASED.
//  CreatedAt   – creation timestamp.
//  ExpiresAt   – CreatedAt plus the hold TTL.
//  UpdatedAt   – last status change.
type Hold struct {
    ID          string          `json:"id"`           // holds.id
    CaregiverID uint64          `json:"caregiver_id"` // holds.caregiver_id
    Date        calendar.Date   `json:"date"`         // holds.slot_date
    SlotWindow  calendar.Window `json:"window"`       // holds.start_minute / end_minute
    RequesterID uint64          `json:"requester_id"` // holds.requester_id
    Spots       int             `json:"spots"`        // holds.spots
    Status      HoldStatus      `json:"status"`       // holds.status
    CreatedAt   time.Time       `json:"created_at"`   // holds.created_at
    ExpiresAt   time.Time       `json:"expires_at"`   // holds.expires_at
    UpdatedAt   time.Time       `json:"updated_at"`   // holds.updated_at
}

// LiveAt reports whether the hold still claims capacity at now.
func (h Hold) LiveAt(now time.Time) bool {
    return h.Status == HoldActive && now.Before(h.ExpiresAt)
}

func (h Hold) Key() SlotKey { return SlotKey{CaregiverID: h.CaregiverID, Date: h.Date} }
