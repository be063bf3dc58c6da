package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/caregiver-booking/internal/cache"
	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
	"github.com/iliyamo/caregiver-booking/internal/repository/memory"
)

const (
	caregiverID  uint64 = 10
	parentID     uint64 = 20
	otherParent  uint64 = 21
	parentEmail         = "parent@example.com"
	holdTTL             = 15 * time.Minute
	hourlyCents  int64  = 2000
	safetyWindow        = 5 * time.Minute
)

var day = calendar.MustNew(2025, time.August, 20)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type refundRecorder struct {
	mu   sync.Mutex
	reqs []RefundRequest
}

func (r *refundRecorder) RequestRefund(_ context.Context, req RefundRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *refundRecorder) all() []RefundRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RefundRequest(nil), r.reqs...)
}

type fixture struct {
	store   *memory.Store
	clock   *clock
	logs    *observer.ObservedLogs
	deps    Deps
	ledger  *Ledger
	avail   *AvailabilityCalculator
	life    *BookingLifecycle
	slots   *SlotManager
	pay     *PaymentCallbacks
	refunds *refundRecorder
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithCache(t, cache.Nop{})
}

func newFixtureWithCache(t *testing.T, c cache.Cache) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	clk := &clock{now: time.Date(2025, time.August, 10, 12, 0, 0, 0, time.UTC)}
	f := &fixture{
		store:   memory.NewStore(),
		clock:   clk,
		logs:    logs,
		refunds: &refundRecorder{},
	}
	f.deps = Deps{
		Store: f.store,
		Directory: memory.NewDirectory(
			model.User{ID: caregiverID, Email: "carer@example.com", Role: model.RoleCaregiver, IsActive: true},
			model.User{ID: parentID, Email: parentEmail, Role: model.RoleParent, IsActive: true},
			model.User{ID: otherParent, Email: "other@example.com", Role: model.RoleParent, IsActive: true},
		),
		Cache: c,
		Log:   zap.New(core),
		Now:   clk.Now,
	}
	f.ledger = NewLedger(f.deps, holdTTL)
	f.avail = NewAvailabilityCalculator(f.deps, 30*time.Second)
	f.life = NewBookingLifecycle(f.deps, f.ledger, f.refunds, LifecycleConfig{
		Rate:         MustCommissionRate("0.15"),
		Location:     time.UTC,
		SafetyWindow: safetyWindow,
	})
	f.slots = NewSlotManager(f.deps)
	f.pay = NewPaymentCallbacks(f.deps, f.ledger, f.life)
	return f
}

func (f *fixture) publish(t *testing.T, date calendar.Date, window string, capacity int) {
	t.Helper()
	w := calendar.FullDay
	if window != "" {
		var err error
		w, err = calendar.ParseWindow(window)
		require.NoError(t, err)
	}
	_, err := f.slots.UpsertSlot(context.Background(), SlotInput{CaregiverID: caregiverID, Date: date, Window: w, TotalCapacity: capacity})
	require.NoError(t, err)
}

func (f *fixture) hold(t *testing.T, date calendar.Date, spots int) model.Hold {
	t.Helper()
	h, err := f.ledger.CreateHold(context.Background(), HoldRequest{CaregiverID: caregiverID, Date: date, Spots: spots, RequesterID: parentID})
	require.NoError(t, err)
	return h
}

// available returns the real-time availability of the date's only window.
func (f *fixture) available(t *testing.T, date calendar.Date) WindowAvailability {
	t.Helper()
	ws, err := f.avail.GetRealTimeAvailability(context.Background(), caregiverID, date)
	require.NoError(t, err)
	require.Len(t, ws, 1)
	return ws[0]
}

func (f *fixture) request(window string, ref, holdID string) BookingRequest {
	w, err := calendar.ParseWindow(window)
	if err != nil {
		panic(err)
	}
	return BookingRequest{
		ParentID:        parentID,
		CaregiverID:     caregiverID,
		Date:            day,
		Window:          w,
		ChildrenCount:   1,
		HourlyRateCents: hourlyCents,
		PaymentRef:      ref,
		HoldID:          holdID,
	}
}

// insert writes a booking straight into the store, bypassing duplicate
// detection.
func (f *fixture) insert(t *testing.T, b model.Booking) {
	t.Helper()
	require.NoError(t, f.store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.Bookings().Insert(context.Background(), b)
	}))
}

func (f *fixture) liveBookings(t *testing.T) []model.Booking {
	t.Helper()
	var out []model.Booking
	require.NoError(t, f.store.WithTx(context.Background(), func(tx repository.Tx) error {
		all, err := tx.Bookings().ListByFingerprint(context.Background(), model.Fingerprint(parentID, caregiverID, day))
		for _, b := range all {
			if b.Status != model.BookingCancelled {
				out = append(out, b)
			}
		}
		return err
	}))
	return out
}

func (f *fixture) unmatched(t *testing.T, ref string) model.UnmatchedPayment {
	t.Helper()
	var p model.UnmatchedPayment
	require.NoError(t, f.store.WithTx(context.Background(), func(tx repository.Tx) error {
		var err error
		p, err = tx.Unmatched().Get(context.Background(), ref)
		return err
	}))
	return p
}
