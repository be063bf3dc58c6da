package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
)

// PaymentResult tells the gateway adapter what a callback did.
type PaymentResult struct {
	Booking *model.Booking `json:"booking,omitempty"`
	Created bool           `json:"created"`
}

// PaymentCallbacks turns verified gateway events into ledger and booking
// operations.  Every handler is safe to run again for a redelivered event.
type PaymentCallbacks struct {
	deps      Deps
	ledger    *Ledger
	lifecycle *BookingLifecycle
}

func NewPaymentCallbacks(d Deps, ledger *Ledger, lifecycle *BookingLifecycle) *PaymentCallbacks {
	return &PaymentCallbacks{deps: d.withDefaults(), ledger: ledger, lifecycle: lifecycle}
}

// Handle dispatches one payment event.
func (p *PaymentCallbacks) Handle(ctx context.Context, ev model.PaymentEvent) (PaymentResult, error) {
	log := p.deps.Log.With(zap.String("event_id", ev.EventID), zap.String("payment_ref", ev.PaymentRef), zap.String("kind", string(ev.Kind)))
	if ev.PaymentRef == "" {
		return PaymentResult{}, validation("payment ref is required")
	}
	switch ev.Kind {
	case model.PaymentAuthorized:
		b, created, err := p.createBooking(ctx, ev, log)
		if err != nil {
			return PaymentResult{}, err
		}
		return PaymentResult{Booking: &b, Created: created}, nil

	case model.PaymentSucceeded:
		b, created, err := p.createBooking(ctx, ev, log)
		if err != nil {
			return PaymentResult{}, err
		}
		if b.PaymentRef != ev.PaymentRef {
			// A duplicate submission resolved to an earlier booking.  This
			// capture is refunded; the kept booking's own payment mirror is
			// left alone.
			log.Warn("captured payment belongs to a duplicate submission",
				zap.String("booking_id", b.ID), zap.Bool("alert", true))
			amount := ev.AmountCents
			if amount == 0 {
				amount = b.TotalAmountCents
			}
			p.lifecycle.requestRefund(ctx, RefundRequest{BookingID: b.ID, PaymentRef: ev.PaymentRef, AmountCents: amount})
			return PaymentResult{Booking: &b}, nil
		}
		paid, err := p.lifecycle.MarkPaid(ctx, ev.PaymentRef)
		if err != nil {
			return PaymentResult{}, err
		}
		return PaymentResult{Booking: &paid, Created: created}, nil

	case model.PaymentDeclined:
		if id := ev.Metadata.HoldID; id != "" {
			if err := p.ledger.ReleaseHold(ctx, id); err != nil {
				if !errors.Is(err, ErrNotFound) {
					return PaymentResult{}, err
				}
				log.Warn("declined payment references unknown hold", zap.String("hold_id", id))
			}
		}
		b, err := p.lifecycle.FailPayment(ctx, ev.PaymentRef)
		if errors.Is(err, ErrNotFound) {
			return PaymentResult{}, nil
		}
		if err != nil {
			return PaymentResult{}, err
		}
		return PaymentResult{Booking: &b}, nil
	}
	return PaymentResult{}, validation("unknown payment event kind %q", ev.Kind)
}

// createBooking resolves the parent and turns the metadata into a booking
// request.  Metadata that cannot name a parent, caregiver or window is a
// gateway inconsistency: the payment is recorded as unmatched, the error
// is returned so the gateway retries, and an alert is logged since the
// money has moved.
func (p *PaymentCallbacks) createBooking(ctx context.Context, ev model.PaymentEvent, log *zap.Logger) (model.Booking, bool, error) {
	md := ev.Metadata
	parentID, err := p.deps.Directory.ParentIDByEmail(ctx, md.ParentEmail)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = fmt.Errorf("%w: no active parent with email %q", ErrGatewayInconsistency, md.ParentEmail)
			log.Error("payment callback cannot be matched to a parent", zap.Bool("alert", true), zap.Error(err))
			p.recordUnmatched(ctx, ev, err, log)
		}
		return model.Booking{}, false, err
	}
	fee := ev.PlatformFeeCents
	var reported *int64
	if fee != 0 {
		reported = &fee
	}
	req := BookingRequest{
		ParentID:         parentID,
		CaregiverID:      md.CaregiverID,
		Date:             md.Date,
		Window:           md.Window,
		ChildrenCount:    md.ChildrenCount,
		HourlyRateCents:  md.HourlyRateCents,
		AmountCents:      ev.AmountCents,
		ReportedFeeCents: reported,
		PaymentRef:       ev.PaymentRef,
		HoldID:           md.HoldID,
	}
	b, created, err := p.lifecycle.CreateBooking(ctx, req)
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		err = fmt.Errorf("%w: %w", ErrGatewayInconsistency, err)
		log.Error("payment callback metadata rejected", zap.Bool("alert", true), zap.Error(err))
		p.recordUnmatched(ctx, ev, err, log)
	}
	if err == nil && created {
		p.resolveUnmatched(ctx, ev.PaymentRef, b.ID, log)
	}
	return b, created, err
}

// RecordUnreadable keeps a payment whose metadata could not be parsed at
// all.  Declined payments moved no money and are not recorded.
func (p *PaymentCallbacks) RecordUnreadable(ctx context.Context, ev model.PaymentEvent, cause error) error {
	if ev.PaymentRef == "" || ev.Kind == model.PaymentDeclined {
		return nil
	}
	return p.saveUnmatched(ctx, ev, cause)
}

func (p *PaymentCallbacks) recordUnmatched(ctx context.Context, ev model.PaymentEvent, cause error, log *zap.Logger) {
	if err := p.saveUnmatched(ctx, ev, cause); err != nil {
		log.Error("unmatched payment could not be recorded", zap.Bool("alert", true), zap.Error(err))
	}
}

func (p *PaymentCallbacks) saveUnmatched(ctx context.Context, ev model.PaymentEvent, cause error) error {
	rec := model.UnmatchedPayment{
		PaymentRef:  ev.PaymentRef,
		EventID:     ev.EventID,
		Kind:        ev.Kind,
		AmountCents: ev.AmountCents,
		Metadata:    rawMetadata(ev),
		Reason:      cause.Error(),
		LastSeenAt:  p.deps.now(),
	}
	return p.deps.Store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Unmatched().Record(ctx, rec)
	})
}

// resolveUnmatched links an earlier unmatched record to the booking a
// redelivery finally created.
func (p *PaymentCallbacks) resolveUnmatched(ctx context.Context, ref, bookingID string, log *zap.Logger) {
	err := p.deps.Store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Unmatched().Resolve(ctx, ref, bookingID, p.deps.now())
	})
	if err != nil {
		log.Warn("unmatched payment could not be resolved", zap.String("booking_id", bookingID), zap.Error(err))
	}
}

// rawMetadata is the gateway metadata as sent, or a rendering of the parsed
// intent when the adapter did not keep it.
func rawMetadata(ev model.PaymentEvent) map[string]string {
	if ev.Raw != nil {
		return ev.Raw
	}
	md := ev.Metadata
	out := map[string]string{
		"parent_email":   md.ParentEmail,
		"children_count": strconv.Itoa(md.ChildrenCount),
		"hold_id":        md.HoldID,
	}
	if md.CaregiverID != 0 {
		out["caregiver_id"] = strconv.FormatUint(md.CaregiverID, 10)
	}
	if !md.Date.IsZero() {
		out["date"] = md.Date.String()
	}
	if !md.Window.IsZero() {
		out["window"] = md.Window.String()
	}
	if md.HourlyRateCents != 0 {
		out["hourly_rate_cents"] = strconv.FormatInt(md.HourlyRateCents, 10)
	}
	return out
}
