package repository

import (
	"context"
	"time"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/model"
)

// Store runs units of work against the persistent state of the booking
// core.  Any error returned by fn rolls back every write made through the
// Tx; a nil return commits.
type Store interface {
	// WithSlotLock serialises fn with every other WithSlotLock call for the
	// same caregiver and date.  All capacity checks and capacity mutations
	// run inside it.
	WithSlotLock(ctx context.Context, caregiverID uint64, date calendar.Date, fn func(Tx) error) error
	// WithTx runs fn in a transaction without taking a slot lock.  It is used
	// for reads and for writes that only ever free capacity.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Slots() SlotRepository
	Holds() HoldRepository
	Bookings() BookingRepository
	Outbox() OutboxRepository
	Unmatched() UnmatchedPaymentRepository
}

// SlotRepository reads and writes slot capacity rows.
type SlotRepository interface {
	ListByCaregiverDate(ctx context.Context, caregiverID uint64, date calendar.Date) ([]model.Slot, error)
	// Upsert creates the slot or replaces its total capacity.  The committed
	// count of an existing slot is preserved.
	Upsert(ctx context.Context, s model.Slot) error
	// AddCommitted adds delta to the committed count.  It returns
	// ErrCapacityConflict when the result leaves [0, total] and ErrNotFound
	// when the slot does not exist.
	AddCommitted(ctx context.Context, caregiverID uint64, date calendar.Date, window calendar.Window, delta int) error
}

// HoldRepository stores reservation holds.
type HoldRepository interface {
	Insert(ctx context.Context, h model.Hold) error
	Get(ctx context.Context, id string) (model.Hold, error)
	// ListActive returns ACTIVE holds for the key, including ones past their
	// expiry that no sweep has visited yet.
	ListActive(ctx context.Context, caregiverID uint64, date calendar.Date) ([]model.Hold, error)
	// ListExpired returns up to limit ACTIVE holds whose expiry is not after now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Hold, error)
	// Transition moves a hold from one status to another.  It reports false
	// when the hold was no longer in from.
	Transition(ctx context.Context, id string, from, to model.HoldStatus, at time.Time) (bool, error)
}

// BookingRepository stores bookings.
type BookingRepository interface {
	Insert(ctx context.Context, b model.Booking) error
	Get(ctx context.Context, id string) (model.Booking, error)
	// Update writes the mutable columns: status, spots, payment mirror and
	// audit flag.
	Update(ctx context.Context, b model.Booking) error
	GetByPaymentRef(ctx context.Context, ref string) (model.Booking, error)
	ListByFingerprint(ctx context.Context, fingerprint string) ([]model.Booking, error)
	// ListForReconcile returns non-cancelled bookings created before the
	// cutoff, ordered by caregiver, date, parent and creation time.
	ListForReconcile(ctx context.Context, scope ReconcileScope, createdBefore time.Time) ([]model.Booking, error)
}

// ReconcileScope narrows a duplicate scan.  Zero values mean unbounded.
type ReconcileScope struct {
	CaregiverID uint64        `json:"caregiver_id,omitempty"`
	From        calendar.Date `json:"from"`
	To          calendar.Date `json:"to"`
}

// OutboxRepository stores status events until they are relayed.
type OutboxRepository interface {
	Enqueue(ctx context.Context, ev model.StatusEvent) error
	// ListPending returns unpublished events oldest first.
	ListPending(ctx context.Context, limit int) ([]model.StatusEvent, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
}

// UnmatchedPaymentRepository keeps gateway payments that could not be
// turned into a booking.
type UnmatchedPaymentRepository interface {
	// Record inserts p, or for a known payment ref refreshes the event,
	// metadata, reason and last-seen time and counts one more attempt.
	Record(ctx context.Context, p model.UnmatchedPayment) error
	Get(ctx context.Context, ref string) (model.UnmatchedPayment, error)
	// Resolve links an open record to the booking created for it.  It is a
	// no-op when no open record exists.
	Resolve(ctx context.Context, ref, bookingID string, at time.Time) error
}

// Directory resolves users managed outside the booking core.
type Directory interface {
	CaregiverExists(ctx context.Context, id uint64) (bool, error)
	// ParentIDByEmail returns ErrNotFound for unknown or inactive parents.
	ParentIDByEmail(ctx context.Context, email string) (uint64, error)
}
