package repository

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "time"

    "github.com/iliyamo/caregiver-booking/internal/model"
)

// UnmatchedPaymentRepo provides data access to the unmatched_payments table
// within a transaction.  payment_ref is the primary key, so a redelivered
// callback updates the existing row instead of adding one.
type UnmatchedPaymentRepo struct {
    tx *sql.Tx
}

// Record upserts the payment.  first_seen_at and a resolution already
// recorded are kept.
func (r *UnmatchedPaymentRepo) Record(ctx context.Context, p model.UnmatchedPayment) error {
    md, err := json.Marshal(p.Metadata)
    if err != nil {
        return err
    }
    const q = `INSERT INTO unmatched_payments
                   (payment_ref, event_id, kind, amount_cents, metadata, reason, attempts, first_seen_at, last_seen_at)
               VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
               ON DUPLICATE KEY UPDATE
                   event_id = VALUES(event_id),
                   kind = VALUES(kind),
                   amount_cents = VALUES(amount_cents),
                   metadata = VALUES(metadata),
                   reason = VALUES(reason),
                   attempts = attempts + 1,
                   last_seen_at = VALUES(last_seen_at)`
    _, err = r.tx.ExecContext(ctx, q, p.PaymentRef, p.EventID, string(p.Kind), p.AmountCents, string(md),
        p.Reason, p.LastSeenAt.UTC(), p.LastSeenAt.UTC())
    return err
}

// Get returns the record for a payment ref or ErrNotFound.
func (r *UnmatchedPaymentRepo) Get(ctx context.Context, ref string) (model.UnmatchedPayment, error) {
    const q = `SELECT payment_ref, event_id, kind, amount_cents, metadata, reason, attempts,
                      first_seen_at, last_seen_at, booking_id, resolved_at
               FROM unmatched_payments WHERE payment_ref = ?`
    var (
        p          model.UnmatchedPayment
        kind, md   string
        bookingID  sql.NullString
        resolvedAt sql.NullTime
    )
    err := r.tx.QueryRowContext(ctx, q, ref).Scan(&p.PaymentRef, &p.EventID, &kind, &p.AmountCents, &md,
        &p.Reason, &p.Attempts, &p.FirstSeenAt, &p.LastSeenAt, &bookingID, &resolvedAt)
    if errors.Is(err, sql.ErrNoRows) {
        return model.UnmatchedPayment{}, ErrNotFound
    }
    if err != nil {
        return model.UnmatchedPayment{}, err
    }
    p.Kind = model.PaymentEventKind(kind)
    if md != "" {
        if err := json.Unmarshal([]byte(md), &p.Metadata); err != nil {
            return model.UnmatchedPayment{}, err
        }
    }
    p.BookingID = bookingID.String
    if resolvedAt.Valid {
        t := resolvedAt.Time
        p.ResolvedAt = &t
    }
    return p, nil
}

// Resolve stamps an open record with the booking created for it.
func (r *UnmatchedPaymentRepo) Resolve(ctx context.Context, ref, bookingID string, at time.Time) error {
    _, err := r.tx.ExecContext(ctx,
        `UPDATE unmatched_payments SET booking_id = ?, resolved_at = ?
         WHERE payment_ref = ? AND resolved_at IS NULL`, bookingID, at.UTC(), ref)
    return err
}
