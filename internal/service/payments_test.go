package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
	"github.com/iliyamo/caregiver-booking/internal/repository/memory"
)

var alertField = zap.Bool("alert", true)

func paymentEvent(kind model.PaymentEventKind, ref, holdID string) model.PaymentEvent {
	return model.PaymentEvent{
		EventID:     "evt_" + ref + "_" + string(kind),
		Kind:        kind,
		PaymentRef:  ref,
		AmountCents: 6000,
		Metadata: model.BookingMetadata{
			CaregiverID:     caregiverID,
			ParentEmail:     "Parent@Example.com",
			Date:            day,
			Window:          calendar.Window{Start: 9 * 60, End: 12 * 60},
			ChildrenCount:   1,
			HoldID:          holdID,
			HourlyRateCents: hourlyCents,
		},
	}
}

func TestAuthorizeThenCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 1)
	h := f.hold(t, day, 1)

	res, err := f.pay.Handle(ctx, paymentEvent(model.PaymentAuthorized, "pi_1", h.ID))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, model.BookingPending, res.Booking.Status)
	assert.Equal(t, parentID, res.Booking.ParentID)

	res, err = f.pay.Handle(ctx, paymentEvent(model.PaymentSucceeded, "pi_1", h.ID))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, model.BookingConfirmed, res.Booking.Status)
	assert.Equal(t, model.PaymentPaid, res.Booking.PaymentStatus)
	assert.False(t, res.Booking.NeedsAudit, res.Booking.AuditReason)

	// Redelivery of the capture.
	res, err = f.pay.Handle(ctx, paymentEvent(model.PaymentSucceeded, "pi_1", h.ID))
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, res.Booking.Status)

	assert.Len(t, f.liveBookings(t), 1)
	assert.Len(t, f.store.Events(), 2, "created and confirmed")
	assert.Equal(t, 1, f.available(t, day).CommittedCount)
}

func TestCaptureOfDuplicateSubmissionLeavesMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 2)
	h := f.hold(t, day, 1)

	_, err := f.pay.Handle(ctx, paymentEvent(model.PaymentAuthorized, "pi_1", h.ID))
	require.NoError(t, err)
	res, err := f.pay.Handle(ctx, paymentEvent(model.PaymentSucceeded, "pi_2", ""))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "pi_1", res.Booking.PaymentRef)
	assert.Equal(t, model.BookingPending, res.Booking.Status)
	assert.Equal(t, model.PaymentNone, res.Booking.PaymentStatus)
	assert.Contains(t, res.Booking.AuditReason, "duplicate submission pi_2")
	assert.Equal(t, 1, f.logs.FilterMessage("captured payment belongs to a duplicate submission").Len())
	assert.Equal(t, []RefundRequest{{BookingID: res.Booking.ID, PaymentRef: "pi_2", AmountCents: 6000}}, f.refunds.all())

	// The refund of the duplicate is noted; the kept booking's mirror is untouched.
	kept, err := f.life.MarkRefunded(ctx, res.Booking.ID, "pi_2", "re_2")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentNone, kept.PaymentStatus)
	assert.Empty(t, kept.RefundRef)
	assert.Contains(t, kept.AuditReason, "duplicate payment pi_2 refunded as re_2")
}

func TestDeclinedPaymentReleasesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 1)
	h := f.hold(t, day, 1)

	res, err := f.pay.Handle(ctx, paymentEvent(model.PaymentDeclined, "pi_1", h.ID))
	require.NoError(t, err)
	assert.Nil(t, res.Booking)
	got, err := f.ledger.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldReleased, got.Status)
	assert.Equal(t, 1, f.available(t, day).RealTimeAvailable)

	_, err = f.pay.Handle(ctx, paymentEvent(model.PaymentDeclined, "pi_2", "gone"))
	assert.NoError(t, err, "unknown hold is logged, not retried")
}

func TestDeclinedAfterAuthorizationCancelsBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 1)
	h := f.hold(t, day, 1)

	_, err := f.pay.Handle(ctx, paymentEvent(model.PaymentAuthorized, "pi_1", h.ID))
	require.NoError(t, err)
	assert.Equal(t, 0, f.available(t, day).RealTimeAvailable)

	res, err := f.pay.Handle(ctx, paymentEvent(model.PaymentDeclined, "pi_1", h.ID))
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, res.Booking.Status)
	assert.Equal(t, model.PaymentFailed, res.Booking.PaymentStatus)
	assert.Equal(t, 1, f.available(t, day).RealTimeAvailable)
	assert.Empty(t, f.refunds.all())
}

func TestPaymentForUnknownParent(t *testing.T) {
	f := newFixture(t)
	f.publish(t, day, "", 1)
	ev := paymentEvent(model.PaymentSucceeded, "pi_1", "")
	ev.Metadata.ParentEmail = "stranger@example.com"

	_, err := f.pay.Handle(context.Background(), ev)
	assert.ErrorIs(t, err, ErrGatewayInconsistency)
	assert.Equal(t, 1, f.logs.FilterField(alertField).Len())
}

func TestUnmatchedCaptureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 1)
	ev := paymentEvent(model.PaymentSucceeded, "pi_orphan", "")
	ev.Metadata.ParentEmail = "late@example.com"
	ev.Raw = map[string]string{"parent_email": "late@example.com", "caregiver_id": "10"}

	_, err := f.pay.Handle(ctx, ev)
	require.ErrorIs(t, err, ErrGatewayInconsistency)
	rec := f.unmatched(t, "pi_orphan")
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, int64(6000), rec.AmountCents)
	assert.Equal(t, ev.Raw, rec.Metadata)
	assert.Contains(t, rec.Reason, "late@example.com")
	assert.Nil(t, rec.ResolvedAt)

	f.clock.Advance(time.Minute)
	_, err = f.pay.Handle(ctx, ev)
	require.ErrorIs(t, err, ErrGatewayInconsistency)
	rec = f.unmatched(t, "pi_orphan")
	assert.Equal(t, 2, rec.Attempts, "a redelivery updates the same record")
	assert.True(t, rec.LastSeenAt.After(rec.FirstSeenAt))

	// Once the parent exists the next delivery books and resolves the record.
	f.deps.Directory.(*memory.Directory).Add(model.User{ID: 30, Email: "late@example.com", Role: model.RoleParent, IsActive: true})
	res, err := f.pay.Handle(ctx, ev)
	require.NoError(t, err)
	require.True(t, res.Created)
	rec = f.unmatched(t, "pi_orphan")
	require.NotNil(t, rec.ResolvedAt)
	assert.Equal(t, res.Booking.ID, rec.BookingID)
}

func TestUnreadableDeclineIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	cause := errors.New("invalid payment metadata: date")
	require.NoError(t, f.pay.RecordUnreadable(context.Background(), model.PaymentEvent{Kind: model.PaymentDeclined, PaymentRef: "pi_1"}, cause))
	require.NoError(t, f.pay.RecordUnreadable(context.Background(), model.PaymentEvent{Kind: model.PaymentAuthorized, PaymentRef: "pi_2"}, cause))

	require.NoError(t, f.store.WithTx(context.Background(), func(tx repository.Tx) error {
		_, err := tx.Unmatched().Get(context.Background(), "pi_1")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		return nil
	}))
	assert.Equal(t, "invalid payment metadata: date", f.unmatched(t, "pi_2").Reason)
}

func TestPaymentWithBrokenMetadata(t *testing.T) {
	f := newFixture(t)
	ev := paymentEvent(model.PaymentAuthorized, "pi_1", "")
	ev.Metadata.Window = calendar.Window{}

	_, err := f.pay.Handle(context.Background(), ev)
	assert.ErrorIs(t, err, ErrGatewayInconsistency)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.pay.Handle(context.Background(), model.PaymentEvent{Kind: model.PaymentAuthorized})
	assert.ErrorIs(t, err, ErrValidation)
}
