package repository

import (
    "context"
    "database/sql"
    "fmt"
    "strings"
    "time"

    "github.com/iliyamo/caregiver-booking/internal/model"
)

// BookingRepo provides data access to the bookings table within a
// transaction.  The fingerprint column is indexed but not unique: a parent
// may legitimately book the same caregiver twice on one day for windows
// that do not overlap, and duplicate detection is done by the caller under
// the slot lock.
type BookingRepo struct {
    tx *sql.Tx
}

const bookingColumns = `id, parent_id, caregiver_id, booking_date, start_minute, end_minute,
    slot_start_minute, slot_end_minute, start_time, end_time, children_count,
    hourly_rate_cents, total_minutes, subtotal_cents, platform_fee_cents, total_amount_cents,
    caregiver_payout_cents, status, fingerprint, hold_id, spots_committed, payment_ref,
    payment_status, refund_ref, needs_audit, audit_reason, created_at, updated_at`

func scanBooking(row rowScanner) (model.Booking, error) {
    var b model.Booking
    var status, paymentStatus string
    var holdID, paymentRef, refundRef sql.NullString
    err := row.Scan(
        &b.ID, &b.ParentID, &b.CaregiverID, &b.Date, &b.Window.Start, &b.Window.End,
        &b.SlotWindow.Start, &b.SlotWindow.End, &b.StartTime, &b.EndTime, &b.ChildrenCount,
        &b.HourlyRateCents, &b.TotalMinutes, &b.SubtotalCents, &b.PlatformFeeCents, &b.TotalAmountCents,
        &b.CaregiverPayoutCents, &status, &b.Fingerprint, &holdID, &b.SpotsCommitted, &paymentRef,
        &paymentStatus, &refundRef, &b.NeedsAudit, &b.AuditReason, &b.CreatedAt, &b.UpdatedAt,
    )
    if err != nil {
        return model.Booking{}, err
    }
    b.Status = model.BookingStatus(status)
    b.PaymentStatus = model.PaymentStatus(paymentStatus)
    b.HoldID = holdID.String
    b.PaymentRef = paymentRef.String
    b.RefundRef = refundRef.String
    return b, nil
}

func collectBookings(rows *sql.Rows) ([]model.Booking, error) {
    defer rows.Close()
    var out []model.Booking
    for rows.Next() {
        b, err := scanBooking(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, b)
    }
    return out, rows.Err()
}

// Insert stores a new booking.  A second booking with the same payment
// reference violates the unique index and is reported as ErrDuplicate.
func (r *BookingRepo) Insert(ctx context.Context, b model.Booking) error {
    q := `INSERT INTO bookings (` + bookingColumns + `) VALUES (` + placeholders(28) + `)`
    _, err := r.tx.ExecContext(ctx, q,
        b.ID, b.ParentID, b.CaregiverID, b.Date, b.Window.Start, b.Window.End,
        b.SlotWindow.Start, b.SlotWindow.End, b.StartTime.UTC(), b.EndTime.UTC(), b.ChildrenCount,
        b.HourlyRateCents, b.TotalMinutes, b.SubtotalCents, b.PlatformFeeCents, b.TotalAmountCents,
        b.CaregiverPayoutCents, string(b.Status), b.Fingerprint, nullString(b.HoldID), b.SpotsCommitted, nullString(b.PaymentRef),
        string(b.PaymentStatus), nullString(b.RefundRef), b.NeedsAudit, b.AuditReason, b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
    )
    if isDuplicate(err) {
        return fmt.Errorf("%w: booking %s", ErrDuplicate, b.ID)
    }
    return err
}

// Get returns the booking with the given ID or ErrNotFound.
func (r *BookingRepo) Get(ctx context.Context, id string) (model.Booking, error) {
    b, err := scanBooking(r.tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
    if err == sql.ErrNoRows {
        return model.Booking{}, ErrNotFound
    }
    return b, err
}

// Update writes the columns that may change after creation.  Amounts,
// times and parties are immutable.
func (r *BookingRepo) Update(ctx context.Context, b model.Booking) error {
    const q = `UPDATE bookings
               SET status = ?, spots_committed = ?, payment_status = ?, refund_ref = ?,
                   needs_audit = ?, audit_reason = ?, updated_at = ?
               WHERE id = ?`
    res, err := r.tx.ExecContext(ctx, q,
        string(b.Status), b.SpotsCommitted, string(b.PaymentStatus), nullString(b.RefundRef),
        b.NeedsAudit, b.AuditReason, b.UpdatedAt.UTC(), b.ID)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        // RowsAffected counts changed rows only; confirm the row exists.
        if _, err := r.Get(ctx, b.ID); err != nil {
            return err
        }
    }
    return nil
}

// GetByPaymentRef returns the booking created for a gateway payment.
func (r *BookingRepo) GetByPaymentRef(ctx context.Context, ref string) (model.Booking, error) {
    b, err := scanBooking(r.tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_ref = ?`, ref))
    if err == sql.ErrNoRows {
        return model.Booking{}, ErrNotFound
    }
    return b, err
}

// ListByFingerprint returns every booking, cancelled or not, sharing the
// natural key, oldest first.
func (r *BookingRepo) ListByFingerprint(ctx context.Context, fingerprint string) ([]model.Booking, error) {
    rows, err := r.tx.QueryContext(ctx,
        `SELECT `+bookingColumns+` FROM bookings WHERE fingerprint = ? ORDER BY created_at, id`, fingerprint)
    if err != nil {
        return nil, err
    }
    return collectBookings(rows)
}

// ListForReconcile returns the candidates for a duplicate scan.
func (r *BookingRepo) ListForReconcile(ctx context.Context, scope ReconcileScope, createdBefore time.Time) ([]model.Booking, error) {
    where := []string{"status <> 'CANCELLED'", "created_at < ?"}
    args := []any{createdBefore.UTC()}
    if scope.CaregiverID != 0 {
        where = append(where, "caregiver_id = ?")
        args = append(args, scope.CaregiverID)
    }
    if !scope.From.IsZero() {
        where = append(where, "booking_date >= ?")
        args = append(args, scope.From)
    }
    if !scope.To.IsZero() {
        where = append(where, "booking_date <= ?")
        args = append(args, scope.To)
    }
    q := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + strings.Join(where, " AND ") +
        ` ORDER BY caregiver_id, booking_date, parent_id, created_at, id`
    rows, err := r.tx.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, err
    }
    return collectBookings(rows)
}

func placeholders(n int) string {
    return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
