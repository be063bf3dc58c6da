package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/iliyamo/caregiver-booking/internal/calendar"
    "github.com/iliyamo/caregiver-booking/internal/model"
)

// HoldRepo provides data access to the holds table within a transaction.
// Holds are never deleted: expiry, release and consumption are status
// changes so the history of every claim stays auditable.  All timestamps
// are stored in UTC.
type HoldRepo struct {
    tx *sql.Tx
}

const holdColumns = `id, caregiver_id, slot_date, start_minute, end_minute, requester_id, spots, status, created_at, expires_at, updated_at`

type rowScanner interface {
    Scan(dest ...any) error
}

func scanHold(row rowScanner) (model.Hold, error) {
    var h model.Hold
    var status string
    err := row.Scan(&h.ID, &h.CaregiverID, &h.Date, &h.SlotWindow.Start, &h.SlotWindow.End,
        &h.RequesterID, &h.Spots, &status, &h.CreatedAt, &h.ExpiresAt, &h.UpdatedAt)
    h.Status = model.HoldStatus(status)
    return h, err
}

func collectHolds(rows *sql.Rows) ([]model.Hold, error) {
    defer rows.Close()
    var holds []model.Hold
    for rows.Next() {
        h, err := scanHold(rows)
        if err != nil {
            return nil, err
        }
        holds = append(holds, h)
    }
    return holds, rows.Err()
}

// Insert stores a new hold.  The caller generates the ID.
func (r *HoldRepo) Insert(ctx context.Context, h model.Hold) error {
    const q = `INSERT INTO holds (` + holdColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
    _, err := r.tx.ExecContext(ctx, q,
        h.ID, h.CaregiverID, h.Date, h.SlotWindow.Start, h.SlotWindow.End,
        h.RequesterID, h.Spots, string(h.Status), h.CreatedAt.UTC(), h.ExpiresAt.UTC(), h.UpdatedAt.UTC())
    return err
}

// Get returns the hold with the given ID or ErrNotFound.
func (r *HoldRepo) Get(ctx context.Context, id string) (model.Hold, error) {
    h, err := scanHold(r.tx.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = ?`, id))
    if err == sql.ErrNoRows {
        return model.Hold{}, ErrNotFound
    }
    return h, err
}

// ListActive returns every ACTIVE hold for the key.  Expiry is evaluated by
// the caller against its own clock so a hold past expires_at stops counting
// immediately, before any sweep touches the row.
func (r *HoldRepo) ListActive(ctx context.Context, caregiverID uint64, date calendar.Date) ([]model.Hold, error) {
    rows, err := r.tx.QueryContext(ctx,
        `SELECT `+holdColumns+` FROM holds WHERE caregiver_id = ? AND slot_date = ? AND status = 'ACTIVE'`,
        caregiverID, date)
    if err != nil {
        return nil, err
    }
    return collectHolds(rows)
}

// ListExpired returns ACTIVE holds whose expiry is at or before now.  The
// rows are locked and locked rows are skipped so concurrent sweepers
// partition the work.
func (r *HoldRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Hold, error) {
    rows, err := r.tx.QueryContext(ctx,
        `SELECT `+holdColumns+` FROM holds
         WHERE status = 'ACTIVE' AND expires_at <= ?
         ORDER BY expires_at
         LIMIT ?
         FOR UPDATE SKIP LOCKED`,
        now.UTC(), limit)
    if err != nil {
        return nil, err
    }
    return collectHolds(rows)
}

// Transition performs a compare-and-set on the status column.
func (r *HoldRepo) Transition(ctx context.Context, id string, from, to model.HoldStatus, at time.Time) (bool, error) {
    res, err := r.tx.ExecContext(ctx,
        `UPDATE holds SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
        string(to), at.UTC(), id, string(from))
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n == 1, nil
}
