package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/caregiver-booking/internal/model"
)

// OutboxRepo stores booking status events in booking_events until the relay
// has published them.
type OutboxRepo struct {
	tx *sql.Tx
}

// Enqueue appends an event in the caller's transaction.
func (r *OutboxRepo) Enqueue(ctx context.Context, ev model.StatusEvent) error {
	const q = `INSERT INTO booking_events (id, booking_id, old_status, new_status, actor_role, occurred_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.tx.ExecContext(ctx, q, ev.ID, ev.BookingID, string(ev.OldStatus), string(ev.NewStatus),
		string(ev.ActorRole), ev.OccurredAt.UTC())
	return err
}

// ListPending locks up to limit unpublished events, oldest first.  Rows held
// by another relay are skipped.
func (r *OutboxRepo) ListPending(ctx context.Context, limit int) ([]model.StatusEvent, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT id, booking_id, old_status, new_status, actor_role, occurred_at
		 FROM booking_events
		 WHERE published_at IS NULL
		 ORDER BY occurred_at, id
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.StatusEvent
	for rows.Next() {
		var ev model.StatusEvent
		var oldStatus, newStatus, role string
		if err := rows.Scan(&ev.ID, &ev.BookingID, &oldStatus, &newStatus, &role, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.OldStatus = model.BookingStatus(oldStatus)
		ev.NewStatus = model.BookingStatus(newStatus)
		ev.ActorRole = model.Role(role)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkPublished stamps the event as delivered to the broker.
func (r *OutboxRepo) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := r.tx.ExecContext(ctx, `UPDATE booking_events SET published_at = ? WHERE id = ?`, at.UTC(), id)
	return err
}
