package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
)

// transitions is the booking state machine.  COMPLETED and CANCELLED have
// no outgoing edges.
var transitions = map[model.BookingStatus][]model.BookingStatus{
	model.BookingPending:    {model.BookingConfirmed, model.BookingCancelled},
	model.BookingConfirmed:  {model.BookingInProgress, model.BookingCancelled},
	model.BookingInProgress: {model.BookingCompleted},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to model.BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RefundRequest asks the payment gateway to return a captured payment.
type RefundRequest struct {
	BookingID   string `json:"booking_id"`
	PaymentRef  string `json:"payment_ref"`
	AmountCents int64  `json:"amount_cents"`
}

// RefundRequester hands refunds to the gateway outside the booking
// transaction.  Implementations must tolerate the same request twice.
type RefundRequester interface {
	RequestRefund(ctx context.Context, r RefundRequest) error
}

// LifecycleConfig carries the settings of BookingLifecycle.
type LifecycleConfig struct {
	Rate CommissionRate
	// Location resolves a booking's date and window into instants.
	Location *time.Location
	// SafetyWindow keeps reconciliation away from bookings younger than it.
	SafetyWindow time.Duration
}

// BookingRequest is a booking intent that a payment authorization has
// backed.  AmountCents is the gross amount the gateway charged; when zero
// the subtotal is derived from the hourly rate.
type BookingRequest struct {
	ParentID         uint64
	CaregiverID      uint64
	Date             calendar.Date
	Window           calendar.Window
	ChildrenCount    int
	HourlyRateCents  int64
	AmountCents      int64
	ReportedFeeCents *int64
	PaymentRef       string
	HoldID           string
}

// BookingLifecycle owns booking creation, the status state machine and
// the payment mirror.
type BookingLifecycle struct {
	deps    Deps
	ledger  *Ledger
	refunds RefundRequester
	cfg     LifecycleConfig
}

func NewBookingLifecycle(d Deps, ledger *Ledger, refunds RefundRequester, cfg LifecycleConfig) *BookingLifecycle {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &BookingLifecycle{deps: d.withDefaults(), ledger: ledger, refunds: refunds, cfg: cfg}
}

func (r BookingRequest) validate() error {
	switch {
	case r.ParentID == 0:
		return validation("parent id is required")
	case r.CaregiverID == 0:
		return validation("caregiver id is required")
	case r.Date.IsZero():
		return validation("date is required")
	case r.ChildrenCount < 1:
		return validation("children count must be at least 1")
	case r.HourlyRateCents < 0 || r.AmountCents < 0:
		return validation("amounts must not be negative")
	case r.AmountCents == 0 && r.HourlyRateCents == 0:
		return validation("either amount or hourly rate is required")
	}
	if _, err := calendar.NewWindow(r.Window.Start, r.Window.End); err != nil {
		return validation("%v", err)
	}
	return nil
}

// build prices the request.  The amounts are fixed here and never
// recomputed.
func (s *BookingLifecycle) build(req BookingRequest, now time.Time) model.Booking {
	minutes := req.Window.Minutes()
	byRate := mulRound(req.HourlyRateCents, int64(minutes), 60)
	subtotal := req.AmountCents
	if subtotal == 0 {
		subtotal = byRate
	}
	split := Commission(subtotal, s.cfg.Rate)
	b := model.Booking{
		ID:                   uuid.NewString(),
		ParentID:             req.ParentID,
		CaregiverID:          req.CaregiverID,
		Date:                 req.Date,
		Window:               req.Window,
		StartTime:            req.Date.At(req.Window.Start, s.cfg.Location).UTC(),
		EndTime:              req.Date.At(req.Window.End, s.cfg.Location).UTC(),
		ChildrenCount:        req.ChildrenCount,
		HourlyRateCents:      req.HourlyRateCents,
		TotalMinutes:         minutes,
		SubtotalCents:        split.Subtotal,
		PlatformFeeCents:     split.PlatformFee,
		TotalAmountCents:     split.TotalAmount,
		CaregiverPayoutCents: split.CaregiverPayout,
		Status:               model.BookingPending,
		Fingerprint:          model.Fingerprint(req.ParentID, req.CaregiverID, req.Date),
		PaymentRef:           req.PaymentRef,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if req.AmountCents != 0 && req.HourlyRateCents != 0 && byRate != req.AmountCents {
		b.Flag(fmt.Sprintf("charged %d cents, hourly rate implies %d", req.AmountCents, byRate))
	}
	if req.ReportedFeeCents != nil && *req.ReportedFeeCents != split.PlatformFee {
		b.Flag(fmt.Sprintf("gateway fee %d cents, computed %d", *req.ReportedFeeCents, split.PlatformFee))
	}
	return b
}

// holdMismatch explains why a hold cannot back the booking, or returns "".
func holdMismatch(h model.Hold, b model.Booking) string {
	switch {
	case h.CaregiverID != b.CaregiverID || h.Date != b.Date:
		return fmt.Sprintf("hold %s is for %s, booking is for %s", h.ID, h.Key(), b.Key())
	case h.RequesterID != b.ParentID:
		return fmt.Sprintf("hold %s belongs to another parent", h.ID)
	case !h.SlotWindow.Contains(b.Window):
		return fmt.Sprintf("hold %s window %s does not cover %s", h.ID, h.SlotWindow, b.Window)
	}
	return ""
}

// CreateBooking records a PENDING booking for an authorized payment and
// converts its hold into committed capacity in the same unit of work.
//
// It is idempotent: a booking that already carries the payment ref, or a
// non-cancelled booking with the same fingerprint and an overlapping
// window, is returned with created=false instead of inserting a second one.
//
// The money has already moved when this runs, so a missing, expired or
// mismatched hold does not fail the call.  The booking is created flagged
// for audit and the inconsistency is logged as an alert.
func (s *BookingLifecycle) CreateBooking(ctx context.Context, req BookingRequest) (model.Booking, bool, error) {
	if err := req.validate(); err != nil {
		return model.Booking{}, false, err
	}
	if err := s.deps.requireCaregiver(ctx, req.CaregiverID); err != nil {
		return model.Booking{}, false, err
	}

	now := s.deps.now()
	var (
		out     model.Booking
		created bool
		freed   bool
	)
	err := s.deps.Store.WithSlotLock(ctx, req.CaregiverID, req.Date, func(tx repository.Tx) error {
		out, created, freed = model.Booking{}, false, false
		if req.PaymentRef != "" {
			existing, err := tx.Bookings().GetByPaymentRef(ctx, req.PaymentRef)
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}
		same, err := tx.Bookings().ListByFingerprint(ctx, model.Fingerprint(req.ParentID, req.CaregiverID, req.Date))
		if err != nil {
			return err
		}
		for _, e := range same {
			if e.Status != model.BookingCancelled && e.Window.Overlaps(req.Window) {
				out, freed, err = s.absorbDuplicateTx(ctx, tx, e, req, now)
				return err
			}
		}

		b := s.build(req, now)
		if err := s.reserveTx(ctx, tx, &b, req.HoldID, now); err != nil {
			return err
		}
		if err := tx.Bookings().Insert(ctx, b); err != nil {
			return err
		}
		if err := s.recordTx(ctx, tx, b.ID, "", model.BookingPending, model.RoleSystem, now); err != nil {
			return err
		}
		out, created = b, true
		return nil
	})
	if errors.Is(err, repository.ErrDuplicate) && req.PaymentRef != "" {
		// Lost a race on the payment ref unique key against another key's lock.
		if existing, gerr := s.byPaymentRef(ctx, req.PaymentRef); gerr == nil {
			out, created, err = existing, false, nil
		}
	}
	if err != nil {
		return model.Booking{}, false, err
	}

	log := s.deps.Log.With(zap.String("booking_id", out.ID), zap.String("fingerprint", out.Fingerprint))
	if !created {
		if out.PaymentRef != req.PaymentRef {
			if freed {
				s.deps.invalidate(ctx, out.Key())
			}
			log.Warn("duplicate booking submission",
				zap.String("payment_ref", out.PaymentRef),
				zap.String("duplicate_payment_ref", req.PaymentRef),
				zap.String("duplicate_hold_id", req.HoldID),
				zap.Bool("hold_released", freed),
				zap.Bool("alert", req.PaymentRef != ""))
		} else {
			log.Info("booking already recorded for payment", zap.String("payment_ref", req.PaymentRef))
		}
		return out, false, nil
	}
	s.deps.invalidate(ctx, out.Key())
	if out.NeedsAudit {
		log.Error("booking created with gateway inconsistency",
			zap.String("reason", out.AuditReason),
			zap.String("payment_ref", out.PaymentRef),
			zap.Bool("alert", true))
	}
	log.Info("booking created",
		zap.Uint64("caregiver_id", out.CaregiverID),
		zap.Stringer("date", out.Date),
		zap.Stringer("window", out.Window),
		zap.Int("spots", out.SpotsCommitted),
		zap.Int64("total_cents", out.TotalAmountCents))
	return out, true, nil
}

// absorbDuplicateTx folds a duplicate submission into the booking it
// duplicates.  The duplicate's own hold goes back to the slot and its
// payment ref is noted on the kept booking so the second payment can be
// traced.  It reports whether a hold was released.
func (s *BookingLifecycle) absorbDuplicateTx(ctx context.Context, tx repository.Tx, kept model.Booking, req BookingRequest, now time.Time) (model.Booking, bool, error) {
	freed := false
	if req.HoldID != "" && req.HoldID != kept.HoldID {
		h, err := tx.Holds().Get(ctx, req.HoldID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return kept, false, err
		case h.CaregiverID == req.CaregiverID && h.Date == req.Date && h.RequesterID == req.ParentID:
			// The slot lock of this key is held, so the hold cannot be
			// consumed concurrently.
			if freed, err = tx.Holds().Transition(ctx, h.ID, model.HoldActive, model.HoldReleased, now); err != nil {
				return kept, false, err
			}
		}
	}
	if req.PaymentRef == "" {
		return kept, freed, nil
	}
	note := "duplicate submission " + req.PaymentRef
	if strings.Contains(kept.AuditReason, note) {
		return kept, freed, nil
	}
	kept.Flag(note)
	kept.UpdatedAt = now
	if err := tx.Bookings().Update(ctx, kept); err != nil {
		return kept, false, err
	}
	return kept, freed, nil
}

// reserveTx commits capacity for b, preferably by consuming its hold.
// When the hold cannot be used the children are committed directly if the
// slot still has room; either way the booking is flagged.
func (s *BookingLifecycle) reserveTx(ctx context.Context, tx repository.Tx, b *model.Booking, holdID string, now time.Time) error {
	if holdID != "" {
		h, err := tx.Holds().Get(ctx, holdID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			b.Flag(fmt.Sprintf("%v: hold %s does not exist", ErrGatewayInconsistency, holdID))
		case err != nil:
			return err
		default:
			if reason := holdMismatch(h, *b); reason != "" {
				b.Flag(fmt.Sprintf("%v: %s", ErrGatewayInconsistency, reason))
				break
			}
			err := s.ledger.consumeTx(ctx, tx, h, now)
			if errors.Is(err, ErrHoldExpired) || errors.Is(err, ErrCapacityExceeded) {
				b.Flag(fmt.Sprintf("%v: %v", ErrGatewayInconsistency, err))
				break
			}
			if err != nil {
				return err
			}
			b.HoldID = h.ID
			b.SlotWindow = h.SlotWindow
			b.SpotsCommitted = h.Spots
			if h.Spots != b.ChildrenCount {
				b.Flag(fmt.Sprintf("hold %s has %d spots for %d children", h.ID, h.Spots, b.ChildrenCount))
			}
			return nil
		}
	} else {
		b.Flag(fmt.Sprintf("%v: payment carries no hold", ErrGatewayInconsistency))
	}

	holds, err := s.ledger.expireKeyTx(ctx, tx, b.CaregiverID, b.Date, now)
	if err != nil {
		return err
	}
	slots, err := tx.Slots().ListByCaregiverDate(ctx, b.CaregiverID, b.Date)
	if err != nil {
		return err
	}
	slot, err := pickSlot(slots, b.Window)
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			b.Flag("capacity not reserved: " + err.Error())
			return nil
		}
		return err
	}
	if avail := summarize(slot, holds, now).RealTimeAvailable; avail < b.ChildrenCount {
		b.Flag(fmt.Sprintf("capacity not reserved: %d spots available for %d children", avail, b.ChildrenCount))
		return nil
	}
	if err := tx.Slots().AddCommitted(ctx, b.CaregiverID, b.Date, slot.Window, b.ChildrenCount); err != nil {
		return err
	}
	b.SlotWindow = slot.Window
	b.SpotsCommitted = b.ChildrenCount
	return nil
}

// recordTx writes the status event for a transition in the caller's unit of
// work.  The relay publishes it after commit.
func (s *BookingLifecycle) recordTx(ctx context.Context, tx repository.Tx, bookingID string, from, to model.BookingStatus, role model.Role, now time.Time) error {
	return tx.Outbox().Enqueue(ctx, model.StatusEvent{
		ID:         uuid.NewString(),
		BookingID:  bookingID,
		OldStatus:  from,
		NewStatus:  to,
		ActorRole:  role,
		OccurredAt: now,
	})
}

// Get returns a booking by id.
func (s *BookingLifecycle) Get(ctx context.Context, id string) (model.Booking, error) {
	var b model.Booking
	err := s.deps.Store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		b, err = tx.Bookings().Get(ctx, id)
		return err
	})
	if err != nil {
		return model.Booking{}, notFound(err, "booking "+id)
	}
	return b, nil
}

func (s *BookingLifecycle) byPaymentRef(ctx context.Context, ref string) (model.Booking, error) {
	var b model.Booking
	err := s.deps.Store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		b, err = tx.Bookings().GetByPaymentRef(ctx, ref)
		return err
	})
	if err != nil {
		return model.Booking{}, notFound(err, "booking for payment "+ref)
	}
	return b, nil
}

// transitionTx applies one state machine edge to b and persists it.  A
// cancellation before the engagement starts gives the committed spots
// back; a cancellation of a paid booking returns the refund to request
// once the unit of work has committed.
func (s *BookingLifecycle) transitionTx(ctx context.Context, tx repository.Tx, b *model.Booking, to model.BookingStatus, role model.Role, now time.Time) (*RefundRequest, error) {
	from := b.Status
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	var refund *RefundRequest
	if to == model.BookingCancelled {
		if b.SpotsCommitted > 0 && now.Before(b.StartTime) {
			err := tx.Slots().AddCommitted(ctx, b.CaregiverID, b.Date, b.SlotWindow, -b.SpotsCommitted)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
			b.SpotsCommitted = 0
		}
		if b.PaymentStatus == model.PaymentPaid && b.PaymentRef != "" {
			refund = &RefundRequest{BookingID: b.ID, PaymentRef: b.PaymentRef, AmountCents: b.TotalAmountCents}
		}
	}
	b.Status = to
	b.UpdatedAt = now
	if err := tx.Bookings().Update(ctx, *b); err != nil {
		return nil, err
	}
	if err := s.recordTx(ctx, tx, b.ID, from, to, role, now); err != nil {
		return nil, err
	}
	return refund, nil
}

// afterTransition runs the side effects of a committed transition.
func (s *BookingLifecycle) afterTransition(ctx context.Context, b model.Booking, from model.BookingStatus, refund *RefundRequest, actor model.Role) {
	if b.Status == model.BookingCancelled {
		s.deps.invalidate(ctx, b.Key())
	}
	s.deps.Log.Info("booking status changed",
		zap.String("booking_id", b.ID),
		zap.String("from", string(from)),
		zap.String("to", string(b.Status)),
		zap.String("actor_role", string(actor)))
	if refund != nil {
		s.requestRefund(ctx, *refund)
	}
}

func (s *BookingLifecycle) requestRefund(ctx context.Context, r RefundRequest) {
	if s.refunds == nil {
		s.deps.Log.Error("refund required but no refund requester is configured",
			zap.String("booking_id", r.BookingID), zap.String("payment_ref", r.PaymentRef), zap.Bool("alert", true))
		return
	}
	if err := s.refunds.RequestRefund(ctx, r); err != nil {
		s.deps.Log.Error("refund request failed",
			zap.String("booking_id", r.BookingID), zap.String("payment_ref", r.PaymentRef),
			zap.Bool("alert", true), zap.Error(err))
		return
	}
	s.deps.Log.Info("refund requested", zap.String("booking_id", r.BookingID), zap.Int64("amount_cents", r.AmountCents))
}

// UpdateStatus moves a booking along the state machine.  Illegal edges
// fail with ErrInvalidTransition.  Whether the actor may make the change
// is decided by the caller.
func (s *BookingLifecycle) UpdateStatus(ctx context.Context, id string, to model.BookingStatus, actor model.Actor) (model.Booking, error) {
	if _, ok := model.ParseBookingStatus(string(to)); !ok {
		return model.Booking{}, validation("unknown status %q", to)
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	now := s.deps.now()
	var (
		b      model.Booking
		from   model.BookingStatus
		refund *RefundRequest
	)
	err = s.deps.Store.WithSlotLock(ctx, cur.CaregiverID, cur.Date, func(tx repository.Tx) error {
		var err error
		if b, err = tx.Bookings().Get(ctx, id); err != nil {
			return notFound(err, "booking "+id)
		}
		from = b.Status
		refund, err = s.transitionTx(ctx, tx, &b, to, actor.Role, now)
		return err
	})
	if err != nil {
		return model.Booking{}, err
	}
	s.afterTransition(ctx, b, from, refund, actor.Role)
	return b, nil
}

// MarkPaid mirrors a captured payment: the booking becomes PAID and a
// PENDING booking is confirmed.  A capture that arrives after the booking
// was cancelled is flagged and refunded.  Repeated calls are no-ops.
func (s *BookingLifecycle) MarkPaid(ctx context.Context, paymentRef string) (model.Booking, error) {
	cur, err := s.byPaymentRef(ctx, paymentRef)
	if err != nil {
		return model.Booking{}, err
	}
	now := s.deps.now()
	var (
		b       model.Booking
		from    model.BookingStatus
		refund  *RefundRequest
		changed bool
	)
	err = s.deps.Store.WithSlotLock(ctx, cur.CaregiverID, cur.Date, func(tx repository.Tx) error {
		var err error
		refund, changed = nil, false
		if b, err = tx.Bookings().Get(ctx, cur.ID); err != nil {
			return err
		}
		from = b.Status
		if b.PaymentStatus == model.PaymentPaid || b.PaymentStatus == model.PaymentRefunded {
			return nil
		}
		changed = true
		b.PaymentStatus = model.PaymentPaid
		b.UpdatedAt = now
		switch b.Status {
		case model.BookingPending:
			_, err = s.transitionTx(ctx, tx, &b, model.BookingConfirmed, model.RoleSystem, now)
			return err
		case model.BookingCancelled:
			b.Flag("payment captured after cancellation")
			refund = &RefundRequest{BookingID: b.ID, PaymentRef: b.PaymentRef, AmountCents: b.TotalAmountCents}
		}
		return tx.Bookings().Update(ctx, b)
	})
	if err != nil {
		return model.Booking{}, err
	}
	if !changed {
		return b, nil
	}
	if from != b.Status {
		s.afterTransition(ctx, b, from, nil, model.RoleSystem)
	}
	if refund != nil {
		s.deps.Log.Warn("payment captured for cancelled booking", zap.String("booking_id", b.ID), zap.Bool("alert", true))
		s.requestRefund(ctx, *refund)
	}
	return b, nil
}

// FailPayment records a declined payment.  A PENDING booking is cancelled
// and its capacity released; a payment already captured is left alone.
func (s *BookingLifecycle) FailPayment(ctx context.Context, paymentRef string) (model.Booking, error) {
	cur, err := s.byPaymentRef(ctx, paymentRef)
	if err != nil {
		return model.Booking{}, err
	}
	now := s.deps.now()
	var (
		b    model.Booking
		from model.BookingStatus
	)
	err = s.deps.Store.WithSlotLock(ctx, cur.CaregiverID, cur.Date, func(tx repository.Tx) error {
		var err error
		if b, err = tx.Bookings().Get(ctx, cur.ID); err != nil {
			return err
		}
		from = b.Status
		if b.PaymentStatus != model.PaymentNone {
			return nil
		}
		b.PaymentStatus = model.PaymentFailed
		b.UpdatedAt = now
		if b.Status == model.BookingPending {
			_, err = s.transitionTx(ctx, tx, &b, model.BookingCancelled, model.RoleSystem, now)
			return err
		}
		return tx.Bookings().Update(ctx, b)
	})
	if err != nil {
		return model.Booking{}, err
	}
	if from != b.Status {
		s.afterTransition(ctx, b, from, nil, model.RoleSystem)
	} else if b.PaymentStatus == model.PaymentPaid {
		s.deps.Log.Warn("payment failure reported after capture", zap.String("booking_id", b.ID), zap.String("payment_ref", paymentRef))
	}
	return b, nil
}

// MarkRefunded records the gateway refund of paymentRef.  When the payment
// is the booking's own the mirror becomes REFUNDED; a refunded duplicate
// capture is only noted in the booking's audit trail.
func (s *BookingLifecycle) MarkRefunded(ctx context.Context, bookingID, paymentRef, refundRef string) (model.Booking, error) {
	now := s.deps.now()
	var b model.Booking
	err := s.deps.Store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		if b, err = tx.Bookings().Get(ctx, bookingID); err != nil {
			return notFound(err, "booking "+bookingID)
		}
		if paymentRef != "" && paymentRef != b.PaymentRef {
			note := fmt.Sprintf("duplicate payment %s refunded as %s", paymentRef, refundRef)
			if strings.Contains(b.AuditReason, note) {
				return nil
			}
			b.Flag(note)
			b.UpdatedAt = now
			return tx.Bookings().Update(ctx, b)
		}
		if b.PaymentStatus == model.PaymentRefunded {
			return nil
		}
		b.PaymentStatus = model.PaymentRefunded
		b.RefundRef = refundRef
		b.UpdatedAt = now
		return tx.Bookings().Update(ctx, b)
	})
	if err != nil {
		return model.Booking{}, err
	}
	s.deps.Log.Info("payment refunded",
		zap.String("booking_id", b.ID), zap.String("payment_ref", paymentRef), zap.String("refund_ref", refundRef))
	return b, nil
}
