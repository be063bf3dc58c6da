package model

import (
    "fmt"
    "time"
    "unicode/utf8"

    "github.com/iliyamo/caregiver-booking/internal/calendar"
)

// BookingStatus is the lifecycle state of a Booking.
type BookingStatus string

const (
    BookingPending    BookingStatus = "PENDING"
    BookingConfirmed  BookingStatus = "CONFIRMED"
    BookingInProgress BookingStatus = "IN_PROGRESS"
    BookingCompleted  BookingStatus = "COMPLETED"
    BookingCancelled  BookingStatus = "CANCELLED"
)

// ParseBookingStatus accepts the upper-case status names.
func ParseBookingStatus(s string) (BookingStatus, bool) {
    switch st := BookingStatus(s); st {
    case BookingPending, BookingConfirmed, BookingInProgress, BookingCompleted, BookingCancelled:
        return st, true
    }
    return "", false
}

// Terminal reports whether no further transition is possible.
func (s BookingStatus) Terminal() bool {
    return s == BookingCompleted || s == BookingCancelled
}

// PaymentStatus mirrors the gateway state of the booking's payment.
type PaymentStatus string

const (
    PaymentNone     PaymentStatus = ""
    PaymentPaid     PaymentStatus = "PAID"
    PaymentFailed   PaymentStatus = "FAILED"
    PaymentRefunded PaymentStatus = "REFUNDED"
)

// Booking is the durable record of a childcare engagement.  Amounts are
// integer cents and are fixed at creation.
//
// Fields:
//  ID                   – generated UUID.
//  ParentID             – parent who booked.
//  CaregiverID          – caregiver booked.
//  Date                 – local calendar date of the engagement.
//  Window               – engagement start and end as minutes of Date.
//  SlotWindow           – window of the slot capacity was drawn from.
//  StartTime / EndTime  – Window resolved in the booking time zone.
//  ChildrenCount        – number of children.
//  HourlyRateCents      – caregiver hourly rate.
//  TotalMinutes         – engagement length.
//  SubtotalCents        – gross payment amount.
//  PlatformFeeCents     – commission on the subtotal.
//  TotalAmountCents     – equal to SubtotalCents.
//  CaregiverPayoutCents – SubtotalCents minus PlatformFeeCents.
//  Status               – lifecycle state.
//  Fingerprint          – parent:caregiver:date natural key.
//  HoldID               – hold consumed at creation, if any.
//  SpotsCommitted       – spots added to the slot's committed count.
//  PaymentRef           – gateway payment reference.
//  PaymentStatus        – mirror of the gateway payment state.
//  RefundRef            – gateway refund reference once refunded.
//  NeedsAudit           – flagged for manual review.
//  AuditReason          – why the booking was flagged.
//  CreatedAt / UpdatedAt – timestamps.
type Booking struct {
    ID                   string          `json:"id"`                       // bookings.id
    ParentID             uint64          `json:"parent_id"`                // bookings.parent_id
    CaregiverID          uint64          `json:"caregiver_id"`             // bookings.caregiver_id
    Date                 calendar.Date   `json:"date"`                     // bookings.booking_date
    Window               calendar.Window `json:"window"`                   // bookings.start_minute / end_minute
    SlotWindow           calendar.Window `json:"slot_window"`              // bookings.slot_start_minute / slot_end_minute
    StartTime            time.Time       `json:"start_time"`               // bookings.start_time
    EndTime              time.Time       `json:"end_time"`                 // bookings.end_time
    ChildrenCount        int             `json:"children_count"`           // bookings.children_count
    HourlyRateCents      int64           `json:"hourly_rate_cents"`        // bookings.hourly_rate_cents
    TotalMinutes         int             `json:"total_minutes"`            // bookings.total_minutes
    SubtotalCents        int64           `json:"subtotal_cents"`           // bookings.subtotal_cents
    PlatformFeeCents     int64           `json:"platform_fee_cents"`       // bookings.platform_fee_cents
    TotalAmountCents     int64           `json:"total_amount_cents"`       // bookings.total_amount_cents
    CaregiverPayoutCents int64           `json:"caregiver_payout_cents"`   // bookings.caregiver_payout_cents
    Status               BookingStatus   `json:"status"`                   // bookings.status
    Fingerprint          string          `json:"fingerprint"`              // bookings.fingerprint
    HoldID               string          `json:"hold_id,omitempty"`        // bookings.hold_id (nullable)
    SpotsCommitted       int             `json:"spots_committed"`          // bookings.spots_committed
    PaymentRef           string          `json:"payment_ref,omitempty"`    // bookings.payment_ref (nullable)
    PaymentStatus        PaymentStatus   `json:"payment_status,omitempty"` // bookings.payment_status
    RefundRef            string          `json:"refund_ref,omitempty"`     // bookings.refund_ref (nullable)
    NeedsAudit           bool            `json:"needs_audit"`              // bookings.needs_audit
    AuditReason          string          `json:"audit_reason,omitempty"`   // bookings.audit_reason
    CreatedAt            time.Time       `json:"created_at"`               // bookings.created_at
    UpdatedAt            time.Time       `json:"updated_at"`               // bookings.updated_at
}

// Fingerprint builds the natural key used for duplicate detection.
func Fingerprint(parentID, caregiverID uint64, date calendar.Date) string {
    return fmt.Sprintf("%d:%d:%s", parentID, caregiverID, date)
}

func (b Booking) Key() SlotKey { return SlotKey{CaregiverID: b.CaregiverID, Date: b.Date} }

// MaxAuditReason is the width of bookings.audit_reason in bytes.
const MaxAuditReason = 512

// Flag marks the booking for manual review, keeping earlier reasons.  The
// combined reason is cut to MaxAuditReason bytes on a rune boundary.
func (b *Booking) Flag(reason string) {
    b.NeedsAudit = true
    if b.AuditReason != "" {
        reason = b.AuditReason + "; " + reason
    }
    b.AuditReason = truncate(reason, MaxAuditReason)
}

func truncate(s string, n int) string {
    if len(s) <= n {
        return s
    }
    const ellipsis = "..."
    cut := n - len(ellipsis)
    for cut > 0 && !utf8.RuneStart(s[cut]) {
        cut--
    }
    return s[:cut] + ellipsis
}
