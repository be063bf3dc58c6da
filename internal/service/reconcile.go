package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
)

// FlaggedGroup is a set of duplicates left for manual review.
type FlaggedGroup struct {
	Fingerprint string   `json:"fingerprint"`
	BookingIDs  []string `json:"booking_ids"`
	Reason      string   `json:"reason"`
}

// ReconcileReport summarises one duplicate scan.
type ReconcileReport struct {
	Scanned   int            `json:"scanned"`
	Groups    int            `json:"duplicate_groups"`
	Kept      []string       `json:"kept"`
	Cancelled []string       `json:"cancelled"`
	Flagged   []FlaggedGroup `json:"flagged"`
}

// dupGroup is one parent's overlapping bookings with a caregiver on one
// local date.
type dupGroup struct {
	date    calendar.Date
	members []model.Booking
}

// DetectAndReconcileDuplicates looks for bookings of the same parent with
// the same caregiver on the same local date whose windows overlap.  In each
// group the most recently created booking is kept and the others are
// cancelled, releasing their capacity and refunding captured payments.
//
// Groups whose members disagree on the calendar date, that contain a
// booking already under way, or whose newest member is unpaid while an
// older one is paid are flagged for audit instead.  Bookings
// younger than the safety window are ignored so a booking being created
// right now is never touched.  Running it again changes nothing.
func (s *BookingLifecycle) DetectAndReconcileDuplicates(ctx context.Context, scope repository.ReconcileScope) (ReconcileReport, error) {
	if !scope.From.IsZero() && !scope.To.IsZero() && scope.To.Before(scope.From) {
		return ReconcileReport{}, validation("scope ends before it starts")
	}
	now := s.deps.now()
	cutoff := now.Add(-s.cfg.SafetyWindow)
	var list []model.Booking
	err := s.deps.Store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		list, err = tx.Bookings().ListForReconcile(ctx, scope, cutoff)
		return err
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{Scanned: len(list), Kept: []string{}, Cancelled: []string{}, Flagged: []FlaggedGroup{}}
	log := s.deps.Log.Named("reconcile")
	for _, g := range s.groupDuplicates(list) {
		report.Groups++
		keep := g.members[len(g.members)-1]
		fp := model.Fingerprint(keep.ParentID, keep.CaregiverID, g.date)

		if reason := s.flagReason(g, keep); reason != "" {
			ids := bookingIDs(g.members)
			if err := s.flagAll(ctx, ids, reason, now); err != nil {
				return report, err
			}
			report.Flagged = append(report.Flagged, FlaggedGroup{Fingerprint: fp, BookingIDs: ids, Reason: reason})
			log.Warn("duplicate group flagged for review",
				zap.String("fingerprint", fp), zap.Strings("booking_ids", ids), zap.String("reason", reason))
			continue
		}

		cancelled, err := s.cancelDuplicates(ctx, g.members[:len(g.members)-1], keep, now)
		if err != nil {
			return report, err
		}
		report.Kept = append(report.Kept, keep.ID)
		report.Cancelled = append(report.Cancelled, cancelled...)
		for _, id := range cancelled {
			log.Info("duplicate booking cancelled",
				zap.String("booking_id", id), zap.String("kept_booking_id", keep.ID), zap.String("fingerprint", fp))
		}
	}
	log.Info("duplicate scan finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("groups", report.Groups),
		zap.Int("cancelled", len(report.Cancelled)),
		zap.Int("flagged", len(report.Flagged)))
	return report, nil
}

// groupDuplicates keys bookings by the local date of their start instant
// rather than the stored date, so a record whose date was shifted by a time
// zone conversion lands in the same group as its twin.  Within a key,
// bookings whose windows chain together by overlap form one group.  Each
// group is ordered oldest first.
func (s *BookingLifecycle) groupDuplicates(list []model.Booking) []dupGroup {
	type key struct {
		caregiver, parent uint64
		date              calendar.Date
	}
	byKey := map[key][]model.Booking{}
	var order []key
	for _, b := range list {
		k := key{caregiver: b.CaregiverID, parent: b.ParentID, date: calendar.DateOf(b.StartTime, s.cfg.Location)}
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], b)
	}

	var out []dupGroup
	for _, k := range order {
		bs := byKey[k]
		if len(bs) < 2 {
			continue
		}
		sort.Slice(bs, func(i, j int) bool {
			if !bs[i].StartTime.Equal(bs[j].StartTime) {
				return bs[i].StartTime.Before(bs[j].StartTime)
			}
			return bs[i].ID < bs[j].ID
		})
		cur := []model.Booking{bs[0]}
		end := bs[0].EndTime
		flush := func() {
			if len(cur) > 1 {
				sort.Slice(cur, func(i, j int) bool { return newer(cur[j], cur[i]) })
				out = append(out, dupGroup{date: k.date, members: cur})
			}
		}
		for _, b := range bs[1:] {
			if b.StartTime.Before(end) {
				cur = append(cur, b)
				if b.EndTime.After(end) {
					end = b.EndTime
				}
				continue
			}
			flush()
			cur = []model.Booking{b}
			end = b.EndTime
		}
		flush()
	}
	return out
}

// newer orders by creation time, then id.
func newer(a, b model.Booking) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (s *BookingLifecycle) flagReason(g dupGroup, keep model.Booking) string {
	var dates []string
	seen := map[calendar.Date]bool{}
	for _, b := range g.members {
		if !seen[b.Date] {
			seen[b.Date] = true
			dates = append(dates, b.Date.String())
		}
	}
	if len(dates) > 1 || !seen[g.date] {
		if !seen[g.date] {
			dates = append(dates, "start "+g.date.String())
		}
		sort.Strings(dates)
		return "duplicate group disagrees on calendar date: " + strings.Join(dates, ", ")
	}
	for _, b := range g.members {
		if b.ID != keep.ID && !CanTransition(b.Status, model.BookingCancelled) {
			return fmt.Sprintf("duplicate group contains %s booking %s", b.Status, b.ID)
		}
	}
	// Keeping an unpaid booking would cancel and refund the one the parent
	// actually paid for.
	if keep.PaymentStatus != model.PaymentPaid {
		for _, b := range g.members {
			if b.ID != keep.ID && b.PaymentStatus == model.PaymentPaid {
				return fmt.Sprintf("duplicate group keeps unpaid booking %s over paid booking %s", keep.ID, b.ID)
			}
		}
	}
	return ""
}

// flagAll marks each booking for audit once per reason.
func (s *BookingLifecycle) flagAll(ctx context.Context, ids []string, reason string, now time.Time) error {
	return s.deps.Store.WithTx(ctx, func(tx repository.Tx) error {
		for _, id := range ids {
			b, err := tx.Bookings().Get(ctx, id)
			if err != nil {
				return err
			}
			if b.NeedsAudit && strings.Contains(b.AuditReason, reason) {
				continue
			}
			b.Flag(reason)
			b.UpdatedAt = now
			if err := tx.Bookings().Update(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
}

// cancelDuplicates cancels every booking of dups under the slot lock of
// keep's key.  Bookings that changed since the scan are left alone.
func (s *BookingLifecycle) cancelDuplicates(ctx context.Context, dups []model.Booking, keep model.Booking, now time.Time) ([]string, error) {
	var (
		cancelled []string
		refunds   []RefundRequest
		done      []model.Booking
		from      []model.BookingStatus
	)
	err := s.deps.Store.WithSlotLock(ctx, keep.CaregiverID, keep.Date, func(tx repository.Tx) error {
		cancelled, refunds, done, from = nil, nil, nil, nil
		for _, d := range dups {
			b, err := tx.Bookings().Get(ctx, d.ID)
			if err != nil {
				return err
			}
			if b.Status != d.Status || !CanTransition(b.Status, model.BookingCancelled) {
				continue
			}
			prev := b.Status
			refund, err := s.transitionTx(ctx, tx, &b, model.BookingCancelled, model.RoleSystem, now)
			if err != nil {
				return err
			}
			if refund != nil {
				refunds = append(refunds, *refund)
			}
			cancelled = append(cancelled, b.ID)
			done = append(done, b)
			from = append(from, prev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, b := range done {
		s.afterTransition(ctx, b, from[i], nil, model.RoleSystem)
	}
	for _, r := range refunds {
		s.requestRefund(ctx, r)
	}
	return cancelled, nil
}

func bookingIDs(bs []model.Booking) []string {
	ids := make([]string, 0, len(bs))
	for _, b := range bs {
		ids = append(ids, b.ID)
	}
	return ids
}
