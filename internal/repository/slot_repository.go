package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/iliyamo/caregiver-booking/internal/calendar"
    "github.com/iliyamo/caregiver-booking/internal/model"
)

// SlotRepo provides data access to the slots table within a transaction.
// A slot row is keyed by caregiver, date and window; the committed count is
// guarded in SQL so a bad delta can never push it outside [0, total].
type SlotRepo struct {
    tx *sql.Tx
}

// ListByCaregiverDate returns the slots of one caregiver on one date
// ordered by window start.
func (r *SlotRepo) ListByCaregiverDate(ctx context.Context, caregiverID uint64, date calendar.Date) ([]model.Slot, error) {
    const q = `SELECT caregiver_id, slot_date, start_minute, end_minute, total_capacity, committed_count, updated_at
               FROM slots
               WHERE caregiver_id = ? AND slot_date = ?
               ORDER BY start_minute`
    rows, err := r.tx.QueryContext(ctx, q, caregiverID, date)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Slot
    for rows.Next() {
        var s model.Slot
        if err := rows.Scan(&s.CaregiverID, &s.Date, &s.Window.Start, &s.Window.End,
            &s.TotalCapacity, &s.CommittedCount, &s.UpdatedAt); err != nil {
            return nil, err
        }
        out = append(out, s)
    }
    return out, rows.Err()
}

// Upsert inserts the slot or replaces the total capacity of an existing
// one.  The CHECK constraint on the table rejects a total below the
// committed count; callers validate active holds before calling.
func (r *SlotRepo) Upsert(ctx context.Context, s model.Slot) error {
    const q = `INSERT INTO slots (caregiver_id, slot_date, start_minute, end_minute, total_capacity, committed_count, updated_at)
               VALUES (?, ?, ?, ?, ?, 0, ?)
               ON DUPLICATE KEY UPDATE total_capacity = VALUES(total_capacity), updated_at = VALUES(updated_at)`
    updated := s.UpdatedAt
    if updated.IsZero() {
        updated = time.Now().UTC()
    }
    _, err := r.tx.ExecContext(ctx, q, s.CaregiverID, s.Date, s.Window.Start, s.Window.End, s.TotalCapacity, updated.UTC())
    return err
}

// AddCommitted adjusts committed_count by delta.  The WHERE clause makes
// the update a no-op when the bound would be crossed; a second lookup then
// tells a missing slot apart from a capacity conflict.
func (r *SlotRepo) AddCommitted(ctx context.Context, caregiverID uint64, date calendar.Date, window calendar.Window, delta int) error {
    if delta == 0 {
        return nil
    }
    const q = `UPDATE slots
               SET committed_count = committed_count + ?, updated_at = UTC_TIMESTAMP(6)
               WHERE caregiver_id = ? AND slot_date = ? AND start_minute = ? AND end_minute = ?
                 AND committed_count + ? BETWEEN 0 AND total_capacity`
    res, err := r.tx.ExecContext(ctx, q, delta, caregiverID, date, window.Start, window.End, delta)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 1 {
        return nil
    }
    var exists int
    err = r.tx.QueryRowContext(ctx,
        `SELECT 1 FROM slots WHERE caregiver_id = ? AND slot_date = ? AND start_minute = ? AND end_minute = ?`,
        caregiverID, date, window.Start, window.End).Scan(&exists)
    if err == sql.ErrNoRows {
        return ErrNotFound
    }
    if err != nil {
        return err
    }
    return ErrCapacityConflict
}
