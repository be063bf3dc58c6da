package model

import (
    "time"

    "github.com/iliyamo/caregiver-booking/internal/calendar"
)

// PaymentEventKind classifies gateway callbacks.
type PaymentEventKind string

const (
    PaymentAuthorized PaymentEventKind = "AUTHORIZED"
    PaymentSucceeded  PaymentEventKind = "SUCCEEDED"
    PaymentDeclined   PaymentEventKind = "FAILED"
)

// BookingMetadata is the booking intent the client attached to the payment
// when checkout started.
type BookingMetadata struct {
    CaregiverID     uint64
    ParentEmail     string
    Date            calendar.Date
    Window          calendar.Window
    ChildrenCount   int
    HoldID          string
    HourlyRateCents int64
}

// PaymentEvent is a verified, gateway-neutral payment callback.  Raw keeps
// the metadata exactly as the gateway sent it.
type PaymentEvent struct {
    EventID          string
    Kind             PaymentEventKind
    PaymentRef       string
    AmountCents      int64
    PlatformFeeCents int64
    Metadata         BookingMetadata
    Raw              map[string]string
}

// UnmatchedPayment is a payment the gateway reported that no booking could
// be created for, kept until someone resolves it by hand or a redelivery
// succeeds.
//
// Fields:
//  PaymentRef   – gateway payment reference, the natural key.
//  EventID      – last gateway event seen for the payment.
//  Kind         – kind of that event.
//  AmountCents  – amount the gateway reported.
//  Metadata     – raw gateway metadata.
//  Reason       – why no booking was created, from the latest attempt.
//  Attempts     – deliveries that failed to match.
//  FirstSeenAt / LastSeenAt – first and latest failed delivery.
//  BookingID / ResolvedAt   – set once a booking exists for the payment.
type UnmatchedPayment struct {
    PaymentRef  string            `json:"payment_ref"`           // unmatched_payments.payment_ref
    EventID     string            `json:"event_id"`              // unmatched_payments.event_id
    Kind        PaymentEventKind  `json:"kind"`                  // unmatched_payments.kind
    AmountCents int64             `json:"amount_cents"`          // unmatched_payments.amount_cents
    Metadata    map[string]string `json:"metadata"`              // unmatched_payments.metadata (JSON)
    Reason      string            `json:"reason"`                // unmatched_payments.reason
    Attempts    int               `json:"attempts"`              // unmatched_payments.attempts
    FirstSeenAt time.Time         `json:"first_seen_at"`         // unmatched_payments.first_seen_at
    LastSeenAt  time.Time         `json:"last_seen_at"`          // unmatched_payments.last_seen_at
    BookingID   string            `json:"booking_id,omitempty"`  // unmatched_payments.booking_id (nullable)
    ResolvedAt  *time.Time        `json:"resolved_at,omitempty"` // unmatched_payments.resolved_at (nullable)
}
