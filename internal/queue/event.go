// Package queue carries booking status events over RabbitMQ: the message
// payload, the publisher used by the outbox relay and the bundled consumer
// that writes the event log.
package queue

import (
    "strings"
    "time"

    "github.com/iliyamo/caregiver-booking/internal/model"
)

// StatusRoutingPrefix prefixes the routing key of every status event; the
// new status in lower case completes it (booking.status.confirmed).
const StatusRoutingPrefix = "booking.status."

// BookingStatusChangedEvent is published once per booking status
// transition.  Creation is published with an empty old_status.  Consumers
// must drop repeats of an event_id: delivery is at least once.
type BookingStatusChangedEvent struct {
    EventID    string `json:"event_id"`
    BookingID  string `json:"booking_id"`
    OldStatus  string `json:"old_status"`
    NewStatus  string `json:"new_status"`
    ActorRole  string `json:"actor_role"`
    OccurredAt string `json:"occurred_at"`
}

// NewStatusChangedEvent converts an outbox row into its wire form.
func NewStatusChangedEvent(ev model.StatusEvent) BookingStatusChangedEvent {
    return BookingStatusChangedEvent{
        EventID:    ev.ID,
        BookingID:  ev.BookingID,
        OldStatus:  string(ev.OldStatus),
        NewStatus:  string(ev.NewStatus),
        ActorRole:  string(ev.ActorRole),
        OccurredAt: ev.OccurredAt.UTC().Format(time.RFC3339Nano),
    }
}

// RoutingKey returns the topic routing key of the event.
func (e BookingStatusChangedEvent) RoutingKey() string {
    return StatusRoutingPrefix + strings.ToLower(e.NewStatus)
}
