package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
)

// MySQL error numbers the store reacts to.
const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// deadlockRetries bounds how often a unit of work is replayed after InnoDB
// picked it as a deadlock victim.
const deadlockRetries = 3

// MySQLStore implements Store on top of database/sql and InnoDB row locks.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore returns a Store bound to the provided database.
func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{db: db} }

// DB exposes the underlying handle for health checks.
func (s *MySQLStore) DB() *sql.DB { return s.db }

// WithSlotLock opens a transaction and takes an exclusive lock on the
// (caregiver, date) row of slot_locks before running fn.  The row is
// created on first use so dates without any slot can still be locked.
// The lock is held until commit or rollback.
func (s *MySQLStore) WithSlotLock(ctx context.Context, caregiverID uint64, date calendar.Date, fn func(Tx) error) error {
	return s.run(ctx, func(tx *sql.Tx) error {
		const q = `INSERT INTO slot_locks (caregiver_id, slot_date) VALUES (?, ?)
		           ON DUPLICATE KEY UPDATE caregiver_id = caregiver_id`
		if _, err := tx.ExecContext(ctx, q, caregiverID, date); err != nil {
			return err
		}
		return fn(sqlTx{tx: tx})
	})
}

// WithTx runs fn in a READ COMMITTED transaction without a slot lock.
func (s *MySQLStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, func(tx *sql.Tx) error { return fn(sqlTx{tx: tx}) })
}

func (s *MySQLStore) run(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < deadlockRetries; attempt++ {
		err = s.once(ctx, fn)
		if !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *MySQLStore) once(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func retryable(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDeadlock || me.Number == mysqlLockWaitTimeout
	}
	return false
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// sqlTx binds the repositories to one *sql.Tx.
type sqlTx struct{ tx *sql.Tx }

func (t sqlTx) Slots() SlotRepository                 { return &SlotRepo{tx: t.tx} }
func (t sqlTx) Holds() HoldRepository                 { return &HoldRepo{tx: t.tx} }
func (t sqlTx) Bookings() BookingRepository           { return &BookingRepo{tx: t.tx} }
func (t sqlTx) Outbox() OutboxRepository              { return &OutboxRepo{tx: t.tx} }
func (t sqlTx) Unmatched() UnmatchedPaymentRepository { return &UnmatchedPaymentRepo{tx: t.tx} }

// nullString maps "" to SQL NULL so optional unique columns stay unique.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
