package model

import "time"

// StatusEvent records one booking status transition.  It is written in the
// same transaction as the transition and relayed to the broker afterwards.
// Creation is recorded with an empty OldStatus.
//
// Fields:
//  ID          – generated UUID, used by consumers to drop redeliveries.
//  BookingID   – booking that changed.
//  OldStatus   – status before the transition.
//  NewStatus   – status after the transition.
//  ActorRole   – role of the caller that caused it.
//  OccurredAt  – transition timestamp.
//  PublishedAt – set once the relay has handed the event to the broker.
type StatusEvent struct {
    ID          string        // booking_events.id
    BookingID   string        // booking_events.booking_id
    OldStatus   BookingStatus // booking_events.old_status
    NewStatus   BookingStatus // booking_events.new_status
    ActorRole   Role          // booking_events.actor_role
    OccurredAt  time.Time     // booking_events.occurred_at
    PublishedAt *time.Time    // booking_events.published_at (nullable)
}
