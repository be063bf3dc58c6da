package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
)

var day = calendar.MustNew(2025, time.August, 20)

func seedSlot(t *testing.T, s *Store, capacity int) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.Slots().Upsert(context.Background(), model.Slot{CaregiverID: 10, Date: day, Window: calendar.FullDay, TotalCapacity: capacity})
	}))
}

func slot(t *testing.T, s *Store) model.Slot {
	t.Helper()
	var out []model.Slot
	require.NoError(t, s.WithTx(context.Background(), func(tx repository.Tx) error {
		var err error
		out, err = tx.Slots().ListByCaregiverDate(context.Background(), 10, day)
		return err
	}))
	require.Len(t, out, 1)
	return out[0]
}

func TestFailedUnitRollsBack(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedSlot(t, s, 2)
	boom := errors.New("boom")

	err := s.WithSlotLock(ctx, 10, day, func(tx repository.Tx) error {
		require.NoError(t, tx.Slots().AddCommitted(ctx, 10, day, calendar.FullDay, 1))
		require.NoError(t, tx.Holds().Insert(ctx, model.Hold{ID: "h1", CaregiverID: 10, Date: day, Status: model.HoldActive}))
		require.NoError(t, tx.Outbox().Enqueue(ctx, model.StatusEvent{ID: "e1", BookingID: "b1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 0, slot(t, s).CommittedCount)
	assert.Empty(t, s.Events())
	err = s.WithTx(ctx, func(tx repository.Tx) error {
		_, err := tx.Holds().Get(ctx, "h1")
		return err
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAddCommittedBounds(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedSlot(t, s, 1)

	err := s.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Slots().AddCommitted(ctx, 10, day, calendar.FullDay, 2)
	})
	assert.ErrorIs(t, err, repository.ErrCapacityConflict)
	err = s.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Slots().AddCommitted(ctx, 10, day, calendar.FullDay, -1)
	})
	assert.ErrorIs(t, err, repository.ErrCapacityConflict)
	err = s.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Slots().AddCommitted(ctx, 10, day.AddDays(1), calendar.FullDay, 1)
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// Shrinking below the committed count is refused too.
	require.NoError(t, s.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Slots().AddCommitted(ctx, 10, day, calendar.FullDay, 1)
	}))
	err = s.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Slots().Upsert(ctx, model.Slot{CaregiverID: 10, Date: day, Window: calendar.FullDay, TotalCapacity: 0})
	})
	assert.ErrorIs(t, err, repository.ErrCapacityConflict)
}

func TestSlotLockSerialisesOneKey(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithSlotLock(ctx, 10, day, func(repository.Tx) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak)
}

func TestBookingLookups(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	t0 := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	fp := model.Fingerprint(20, 10, day)
	require.NoError(t, s.WithTx(ctx, func(tx repository.Tx) error {
		for i, id := range []string{"b2", "b1", "b3"} {
			b := model.Booking{ID: id, ParentID: 20, CaregiverID: 10, Date: day, Fingerprint: fp,
				PaymentRef: "pi_" + id, Status: model.BookingPending, CreatedAt: t0.Add(time.Duration(i) * time.Hour)}
			if id == "b3" {
				b.Status = model.BookingCancelled
			}
			if err := tx.Bookings().Insert(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}))

	err := s.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Bookings().Insert(ctx, model.Booking{ID: "b4", PaymentRef: "pi_b1"})
	})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	require.NoError(t, s.WithTx(ctx, func(tx repository.Tx) error {
		list, err := tx.Bookings().ListByFingerprint(ctx, fp)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "b2", list[0].ID, "oldest first")

		b, err := tx.Bookings().GetByPaymentRef(ctx, "pi_b1")
		require.NoError(t, err)
		assert.Equal(t, "b1", b.ID)

		cands, err := tx.Bookings().ListForReconcile(ctx, repository.ReconcileScope{}, t0.Add(90*time.Minute))
		require.NoError(t, err)
		assert.Len(t, cands, 2, "cancelled and too recent rows are excluded")

		cands, err = tx.Bookings().ListForReconcile(ctx, repository.ReconcileScope{From: day.AddDays(1)}, t0.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, cands)
		return nil
	}))
}

func TestOutboxPendingAndPublished(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	t0 := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.WithTx(ctx, func(tx repository.Tx) error {
		for i, id := range []string{"e2", "e1", "e3"} {
			if err := tx.Outbox().Enqueue(ctx, model.StatusEvent{ID: id, OccurredAt: t0.Add(time.Duration(i) * time.Minute)}); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, s.WithTx(ctx, func(tx repository.Tx) error {
		pending, err := tx.Outbox().ListPending(ctx, 2)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, []string{"e2", "e1"}, []string{pending[0].ID, pending[1].ID})
		return tx.Outbox().MarkPublished(ctx, "e2", t0)
	}))
	require.NoError(t, s.WithTx(ctx, func(tx repository.Tx) error {
		pending, err := tx.Outbox().ListPending(ctx, 10)
		assert.Len(t, pending, 2)
		return err
	}))
}

func TestDirectory(t *testing.T) {
	d := NewDirectory(
		model.User{ID: 10, Email: "carer@example.com", Role: model.RoleCaregiver, IsActive: true},
		model.User{ID: 11, Email: "gone@example.com", Role: model.RoleCaregiver},
		model.User{ID: 20, Email: "Parent@Example.com", Role: model.RoleParent, IsActive: true},
	)
	ctx := context.Background()
	ok, _ := d.CaregiverExists(ctx, 10)
	assert.True(t, ok)
	ok, _ = d.CaregiverExists(ctx, 11)
	assert.False(t, ok, "inactive")
	ok, _ = d.CaregiverExists(ctx, 20)
	assert.False(t, ok, "parent")

	id, err := d.ParentIDByEmail(ctx, " parent@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(20), id)
	_, err = d.ParentIDByEmail(ctx, "carer@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUnmatchedPaymentLifecycle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	t0 := time.Date(2025, time.August, 10, 12, 0, 0, 0, time.UTC)
	record := func(at time.Time) error {
		return s.WithTx(ctx, func(tx repository.Tx) error {
			return tx.Unmatched().Record(ctx, model.UnmatchedPayment{PaymentRef: "pi_1", Reason: "no parent", LastSeenAt: at})
		})
	}
	get := func() model.UnmatchedPayment {
		var p model.UnmatchedPayment
		require.NoError(t, s.WithTx(ctx, func(tx repository.Tx) error {
			var err error
			p, err = tx.Unmatched().Get(ctx, "pi_1")
			return err
		}))
		return p
	}

	require.NoError(t, record(t0))
	require.NoError(t, record(t0.Add(time.Minute)))
	p := get()
	assert.Equal(t, 2, p.Attempts)
	assert.Equal(t, t0, p.FirstSeenAt)
	assert.Equal(t, t0.Add(time.Minute), p.LastSeenAt)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.Unmatched().Resolve(ctx, "pi_1", "b1", t0))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, get().ResolvedAt, "rolled back")

	require.NoError(t, s.WithTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.Unmatched().Resolve(ctx, "pi_1", "b1", t0))
		return tx.Unmatched().Resolve(ctx, "pi_1", "b2", t0.Add(time.Hour))
	}))
	p = get()
	require.NotNil(t, p.ResolvedAt)
	assert.Equal(t, "b1", p.BookingID, "a resolved record stays with its first booking")
}
