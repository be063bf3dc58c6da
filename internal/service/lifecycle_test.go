package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/model"
)

func TestReservationScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 2)

	a := f.hold(t, day, 1)
	assert.Equal(t, 1, f.available(t, day).RealTimeAvailable)
	b := f.hold(t, day, 1)
	assert.Equal(t, 0, f.available(t, day).RealTimeAvailable)
	_, err := f.ledger.CreateHold(ctx, HoldRequest{CaregiverID: caregiverID, Date: day, Spots: 1, RequesterID: otherParent})
	require.ErrorIs(t, err, ErrCapacityExceeded)

	res, err := f.pay.Handle(ctx, model.PaymentEvent{
		EventID:          "evt_1",
		Kind:             model.PaymentSucceeded,
		PaymentRef:       "pi_a",
		AmountCents:      6000,
		PlatformFeeCents: 900,
		Metadata: model.BookingMetadata{
			CaregiverID:     caregiverID,
			ParentEmail:     parentEmail,
			Date:            day,
			Window:          calendar.Window{Start: 9 * 60, End: 12 * 60},
			ChildrenCount:   1,
			HoldID:          a.ID,
			HourlyRateCents: hourlyCents,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Booking)
	assert.True(t, res.Created)
	assert.Equal(t, model.BookingConfirmed, res.Booking.Status)
	assert.Equal(t, model.PaymentPaid, res.Booking.PaymentStatus)
	assert.False(t, res.Booking.NeedsAudit, res.Booking.AuditReason)
	assert.Equal(t, int64(6000), res.Booking.TotalAmountCents)
	assert.Equal(t, int64(900), res.Booking.PlatformFeeCents)
	assert.Equal(t, int64(5100), res.Booking.CaregiverPayoutCents)

	avail := f.available(t, day)
	assert.Equal(t, 1, avail.CommittedCount)
	assert.Equal(t, 1, avail.ActiveHoldCount)
	assert.Equal(t, 0, avail.RealTimeAvailable)

	consumed, err := f.ledger.GetHold(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldConsumed, consumed.Status)
	stillHeld, err := f.ledger.GetHold(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldActive, stillHeld.Status)
}

func TestCreateBookingPricesOnce(t *testing.T) {
	f := newFixture(t)
	f.publish(t, day, "", 2)
	h := f.hold(t, day, 1)

	req := f.request("09:00-11:30", "pi_1", h.ID)
	bk, created, err := f.life.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.BookingPending, bk.Status)
	assert.Equal(t, 150, bk.TotalMinutes)
	assert.Equal(t, int64(5000), bk.SubtotalCents)
	assert.Equal(t, int64(750), bk.PlatformFeeCents)
	assert.Equal(t, int64(4250), bk.CaregiverPayoutCents)
	assert.Equal(t, bk.SubtotalCents, bk.TotalAmountCents)
	assert.Equal(t, time.Date(2025, time.August, 20, 9, 0, 0, 0, time.UTC), bk.StartTime)
	assert.Equal(t, model.Fingerprint(parentID, caregiverID, day), bk.Fingerprint)
	assert.Equal(t, h.ID, bk.HoldID)
	assert.Equal(t, 1, bk.SpotsCommitted)
}

func TestCreateBookingFlagsFeeMismatch(t *testing.T) {
	f := newFixture(t)
	f.publish(t, day, "", 1)
	h := f.hold(t, day, 1)

	req := f.request("09:00-10:00", "pi_1", h.ID)
	req.AmountCents = 2000
	fee := int64(250)
	req.ReportedFeeCents = &fee
	bk, _, err := f.life.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(300), bk.PlatformFeeCents)
	assert.True(t, bk.NeedsAudit)
	assert.Contains(t, bk.AuditReason, "gateway fee 250")
}

func TestCreateBookingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 3)
	h := f.hold(t, day, 1)

	first, created, err := f.life.CreateBooking(ctx, f.request("09:00-12:00", "pi_1", h.ID))
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := f.life.CreateBooking(ctx, f.request("09:00-12:00", "pi_1", h.ID))
	require.NoError(t, err)
	assert.False(t, created, "retried delivery")
	assert.Equal(t, first.ID, again.ID)

	dup, created, err := f.life.CreateBooking(ctx, f.request("10:00-11:00", "pi_2", ""))
	require.NoError(t, err)
	assert.False(t, created, "double submission with another charge")
	assert.Equal(t, first.ID, dup.ID)

	assert.Len(t, f.liveBookings(t), 1)
	assert.Equal(t, 1, f.available(t, day).CommittedCount)
	assert.Equal(t, 1, f.logs.FilterMessage("duplicate booking submission").Len())
	assert.Len(t, f.store.Events(), 1, "one creation event")
}

func TestDuplicateSubmissionReleasesItsHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 2)
	first := f.hold(t, day, 1)
	second := f.hold(t, day, 1)

	kept, created, err := f.life.CreateBooking(ctx, f.request("09:00-12:00", "pi_1", first.ID))
	require.NoError(t, err)
	require.True(t, created)

	dup, created, err := f.life.CreateBooking(ctx, f.request("09:00-12:00", "pi_2", second.ID))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, kept.ID, dup.ID)
	assert.True(t, dup.NeedsAudit)
	assert.Contains(t, dup.AuditReason, "duplicate submission pi_2")

	got, err := f.ledger.GetHold(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldReleased, got.Status)
	a := f.available(t, day)
	assert.Equal(t, 1, a.CommittedCount)
	assert.Equal(t, 0, a.ActiveHoldCount)
	assert.Equal(t, 1, a.RealTimeAvailable)

	// A redelivery of the duplicate does not repeat the note.
	again, _, err := f.life.CreateBooking(ctx, f.request("09:00-12:00", "pi_2", second.ID))
	require.NoError(t, err)
	assert.Equal(t, dup.AuditReason, again.AuditReason)
}

func TestAuditReasonIsBounded(t *testing.T) {
	f := newFixture(t)
	f.publish(t, day, "", 1)
	long := strings.Repeat("é", 400)

	bk, created, err := f.life.CreateBooking(context.Background(), f.request("09:00-12:00", "pi_1", long))
	require.NoError(t, err)
	require.True(t, created)
	assert.True(t, bk.NeedsAudit)
	assert.LessOrEqual(t, len(bk.AuditReason), model.MaxAuditReason)
	assert.True(t, utf8.ValidString(bk.AuditReason))
	assert.True(t, strings.HasSuffix(bk.AuditReason, "..."))
}

func TestCreateBookingAllowsSeparateWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 2)
	morning := f.hold(t, day, 1)
	evening := f.hold(t, day, 1)

	_, created, err := f.life.CreateBooking(ctx, f.request("08:00-10:00", "pi_1", morning.ID))
	require.NoError(t, err)
	require.True(t, created)
	_, created, err = f.life.CreateBooking(ctx, f.request("17:00-19:00", "pi_2", evening.ID))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, f.liveBookings(t), 2)
}

func TestCreateBookingWithUnusableHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 1)
	h := f.hold(t, day, 1)
	f.clock.Advance(holdTTL + time.Minute)

	bk, created, err := f.life.CreateBooking(ctx, f.request("09:00-12:00", "pi_1", h.ID))
	require.NoError(t, err)
	assert.True(t, created, "money has moved, the booking is still recorded")
	assert.True(t, bk.NeedsAudit)
	assert.Contains(t, bk.AuditReason, ErrGatewayInconsistency.Error())
	assert.Equal(t, 1, bk.SpotsCommitted, "the freed spot is committed directly")
	assert.Equal(t, 1, f.logs.FilterMessage("booking created with gateway inconsistency").Len())

	// No capacity left: recorded without committing spots.
	req := f.request("09:00-12:00", "pi_2", "nope")
	req.ParentID = otherParent
	bk2, created, err := f.life.CreateBooking(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 0, bk2.SpotsCommitted)
	assert.Contains(t, bk2.AuditReason, "capacity not reserved")
	assert.Equal(t, 1, f.available(t, day).CommittedCount)
}

func TestCreateBookingRejectsHoldOfAnotherParent(t *testing.T) {
	f := newFixture(t)
	f.publish(t, day, "", 2)
	h, err := f.ledger.CreateHold(context.Background(), HoldRequest{CaregiverID: caregiverID, Date: day, Spots: 1, RequesterID: otherParent})
	require.NoError(t, err)

	bk, _, err := f.life.CreateBooking(context.Background(), f.request("09:00-12:00", "pi_1", h.ID))
	require.NoError(t, err)
	assert.True(t, bk.NeedsAudit)
	assert.Empty(t, bk.HoldID)

	got, err := f.ledger.GetHold(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldActive, got.Status)
}

func TestCreateBookingResolvesDateInBookingZone(t *testing.T) {
	f := newFixture(t)
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	f.life = NewBookingLifecycle(f.deps, f.ledger, f.refunds, LifecycleConfig{Rate: MustCommissionRate("0.15"), Location: la})
	f.publish(t, day, "", 1)
	h := f.hold(t, day, 1)

	bk, _, err := f.life.CreateBooking(context.Background(), f.request("22:00-24:00", "pi_1", h.ID))
	require.NoError(t, err)
	assert.Equal(t, day, bk.Date)
	assert.Equal(t, time.Date(2025, time.August, 21, 5, 0, 0, 0, time.UTC), bk.StartTime)
	assert.Equal(t, day, calendar.DateOf(bk.StartTime, la))
	assert.Equal(t, "20:10:2025-08-20", bk.Fingerprint)
}

func TestCanTransition(t *testing.T) {
	all := []model.BookingStatus{model.BookingPending, model.BookingConfirmed, model.BookingInProgress, model.BookingCompleted, model.BookingCancelled}
	legal := map[[2]model.BookingStatus]bool{
		{model.BookingPending, model.BookingConfirmed}:    true,
		{model.BookingPending, model.BookingCancelled}:    true,
		{model.BookingConfirmed, model.BookingInProgress}: true,
		{model.BookingConfirmed, model.BookingCancelled}:  true,
		{model.BookingInProgress, model.BookingCompleted}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]model.BookingStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestUpdateStatusWalk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 1)
	h := f.hold(t, day, 1)
	bk, _, err := f.life.CreateBooking(ctx, f.request("09:00-12:00", "pi_1", h.ID))
	require.NoError(t, err)

	caregiver := model.Actor{ID: caregiverID, Role: model.RoleCaregiver}
	for _, to := range []model.BookingStatus{model.BookingConfirmed, model.BookingInProgress, model.BookingCompleted} {
		f.clock.Advance(time.Minute)
		bk, err = f.life.UpdateStatus(ctx, bk.ID, to, caregiver)
		require.NoError(t, err)
		assert.Equal(t, to, bk.Status)
	}

	_, err = f.life.UpdateStatus(ctx, bk.ID, model.BookingConfirmed, caregiver)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.life.UpdateStatus(ctx, bk.ID, model.BookingCancelled, caregiver)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.life.UpdateStatus(ctx, bk.ID, "DONE", caregiver)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.life.UpdateStatus(ctx, "missing", model.BookingConfirmed, caregiver)
	assert.ErrorIs(t, err, ErrNotFound)

	events := f.store.Events()
	require.Len(t, events, 4, "one event per transition")
	assert.Equal(t, model.BookingStatus(""), events[0].OldStatus)
	assert.Equal(t, model.BookingCompleted, events[3].NewStatus)
	assert.Equal(t, model.RoleCaregiver, events[3].ActorRole)
}

func TestCancelPendingRestoresCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 1)
	h := f.hold(t, day, 1)
	bk, _, err := f.life.CreateBooking(ctx, f.request("09:00-12:00", "pi_1", h.ID))
	require.NoError(t, err)
	assert.Equal(t, 0, f.available(t, day).RealTimeAvailable)

	bk, err = f.life.UpdateStatus(ctx, bk.ID, model.BookingCancelled, model.Actor{ID: parentID, Role: model.RoleParent})
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, bk.Status)
	assert.Equal(t, 0, bk.SpotsCommitted)
	assert.Equal(t, 1, f.available(t, day).RealTimeAvailable)
	assert.Empty(t, f.refunds.all(), "nothing was captured")
}

func TestCancelPaidBookingRequestsRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 1)
	h := f.hold(t, day, 1)
	bk, _, err := f.life.CreateBooking(ctx, f.request("09:00-12:00", "pi_1", h.ID))
	require.NoError(t, err)
	bk, err = f.life.MarkPaid(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, bk.Status)

	_, err = f.life.UpdateStatus(ctx, bk.ID, model.BookingCancelled, model.Actor{Role: model.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, []RefundRequest{{BookingID: bk.ID, PaymentRef: "pi_1", AmountCents: 6000}}, f.refunds.all())

	refunded, err := f.life.MarkRefunded(ctx, bk.ID, "pi_1", "re_1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRefunded, refunded.PaymentStatus)
	assert.Equal(t, "re_1", refunded.RefundRef)
}

func TestCancelAfterStartKeepsCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 1)
	h := f.hold(t, day, 1)
	bk, _, err := f.life.CreateBooking(ctx, f.request("09:00-12:00", "pi_1", h.ID))
	require.NoError(t, err)
	_, err = f.life.UpdateStatus(ctx, bk.ID, model.BookingConfirmed, model.SystemActor)
	require.NoError(t, err)

	f.clock.Advance(bk.StartTime.Sub(f.clock.Now()) + time.Minute)
	_, err = f.life.UpdateStatus(ctx, bk.ID, model.BookingCancelled, model.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, 1, f.available(t, day).CommittedCount)
}

func TestMarkPaidAfterCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 1)
	h := f.hold(t, day, 1)
	bk, _, err := f.life.CreateBooking(ctx, f.request("09:00-12:00", "pi_1", h.ID))
	require.NoError(t, err)
	_, err = f.life.UpdateStatus(ctx, bk.ID, model.BookingCancelled, model.Actor{ID: parentID, Role: model.RoleParent})
	require.NoError(t, err)

	bk, err = f.life.MarkPaid(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, bk.Status)
	assert.Equal(t, model.PaymentPaid, bk.PaymentStatus)
	assert.True(t, bk.NeedsAudit)
	assert.Len(t, f.refunds.all(), 1)

	_, err = f.life.MarkPaid(ctx, "pi_1")
	require.NoError(t, err)
	assert.Len(t, f.refunds.all(), 1, "repeat capture is a no-op")
}
