// Package memory implements the repository ports in process memory.  It
// backs the service tests and single-instance development runs; locking
// semantics match the MySQL store: one mutex per (caregiver, date) for
// WithSlotLock, and rollback of every write when the unit of work fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
)

type slotID struct {
	key    model.SlotKey
	window calendar.Window
}

// Store is an in-memory repository.Store.
type Store struct {
	// units: slot-locked work shares it, WithTx takes it exclusively.
	units sync.RWMutex

	keysMu sync.Mutex
	keys   map[model.SlotKey]*sync.Mutex

	mu       sync.Mutex
	slots    map[slotID]model.Slot
	holds    map[string]model.Hold
	bookings map[string]model.Booking
	events   map[string]model.StatusEvent
	payments map[string]model.UnmatchedPayment
}

func NewStore() *Store {
	return &Store{
		keys:     make(map[model.SlotKey]*sync.Mutex),
		slots:    make(map[slotID]model.Slot),
		holds:    make(map[string]model.Hold),
		bookings: make(map[string]model.Booking),
		events:   make(map[string]model.StatusEvent),
		payments: make(map[string]model.UnmatchedPayment),
	}
}

func (s *Store) keyLock(k model.SlotKey) *sync.Mutex {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	m, ok := s.keys[k]
	if !ok {
		m = &sync.Mutex{}
		s.keys[k] = m
	}
	return m
}

// WithSlotLock runs fn while holding the mutex of the (caregiver, date) key.
func (s *Store) WithSlotLock(ctx context.Context, caregiverID uint64, date calendar.Date, fn func(repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.units.RLock()
	defer s.units.RUnlock()
	m := s.keyLock(model.SlotKey{CaregiverID: caregiverID, Date: date})
	m.Lock()
	defer m.Unlock()
	return s.run(fn)
}

// WithTx runs fn exclusively with respect to every other unit of work.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.units.Lock()
	defer s.units.Unlock()
	return s.run(fn)
}

func (s *Store) run(fn func(repository.Tx) error) error {
	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memTx records an undo closure for every write.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) Slots() repository.SlotRepository                 { return slotRepo{t} }
func (t *memTx) Holds() repository.HoldRepository                 { return holdRepo{t} }
func (t *memTx) Bookings() repository.BookingRepository           { return bookingRepo{t} }
func (t *memTx) Outbox() repository.OutboxRepository              { return outboxRepo{t} }
func (t *memTx) Unmatched() repository.UnmatchedPaymentRepository { return unmatchedRepo{t} }

type slotRepo struct{ t *memTx }

func (r slotRepo) ListByCaregiverDate(_ context.Context, caregiverID uint64, date calendar.Date) ([]model.Slot, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model.SlotKey{CaregiverID: caregiverID, Date: date}
	var out []model.Slot
	for id, slot := range s.slots {
		if id.key == key {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Window.Start < out[j].Window.Start })
	return out, nil
}

func (r slotRepo) Upsert(_ context.Context, slot model.Slot) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	id := slotID{key: slot.Key(), window: slot.Window}
	prev, existed := s.slots[id]
	if existed {
		if slot.TotalCapacity < prev.CommittedCount {
			return repository.ErrCapacityConflict
		}
		slot.CommittedCount = prev.CommittedCount
	} else {
		slot.CommittedCount = 0
	}
	if slot.UpdatedAt.IsZero() {
		slot.UpdatedAt = time.Now().UTC()
	}
	s.slots[id] = slot
	r.t.undo = append(r.t.undo, func() {
		if existed {
			s.slots[id] = prev
		} else {
			delete(s.slots, id)
		}
	})
	return nil
}

func (r slotRepo) AddCommitted(_ context.Context, caregiverID uint64, date calendar.Date, window calendar.Window, delta int) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	id := slotID{key: model.SlotKey{CaregiverID: caregiverID, Date: date}, window: window}
	prev, ok := s.slots[id]
	if !ok {
		return repository.ErrNotFound
	}
	next := prev.CommittedCount + delta
	if next < 0 || next > prev.TotalCapacity {
		return repository.ErrCapacityConflict
	}
	updated := prev
	updated.CommittedCount = next
	updated.UpdatedAt = time.Now().UTC()
	s.slots[id] = updated
	r.t.undo = append(r.t.undo, func() { s.slots[id] = prev })
	return nil
}

type holdRepo struct{ t *memTx }

func (r holdRepo) put(h model.Hold) {
	s := r.t.s
	prev, existed := s.holds[h.ID]
	s.holds[h.ID] = h
	r.t.undo = append(r.t.undo, func() {
		if existed {
			s.holds[h.ID] = prev
		} else {
			delete(s.holds, h.ID)
		}
	})
}

func (r holdRepo) Insert(_ context.Context, h model.Hold) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.holds[h.ID]; ok {
		return repository.ErrDuplicate
	}
	r.put(h)
	return nil
}

func (r holdRepo) Get(_ context.Context, id string) (model.Hold, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[id]
	if !ok {
		return model.Hold{}, repository.ErrNotFound
	}
	return h, nil
}

func (r holdRepo) ListActive(_ context.Context, caregiverID uint64, date calendar.Date) ([]model.Hold, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Hold
	for _, h := range s.holds {
		if h.CaregiverID == caregiverID && h.Date == date && h.Status == model.HoldActive {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r holdRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]model.Hold, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Hold
	for _, h := range s.holds {
		if h.Status == model.HoldActive && !now.Before(h.ExpiresAt) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r holdRepo) Transition(_ context.Context, id string, from, to model.HoldStatus, at time.Time) (bool, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[id]
	if !ok || h.Status != from {
		return false, nil
	}
	h.Status = to
	h.UpdatedAt = at
	r.put(h)
	return true, nil
}

type bookingRepo struct{ t *memTx }

func (r bookingRepo) put(b model.Booking) {
	s := r.t.s
	prev, existed := s.bookings[b.ID]
	s.bookings[b.ID] = b
	r.t.undo = append(r.t.undo, func() {
		if existed {
			s.bookings[b.ID] = prev
		} else {
			delete(s.bookings, b.ID)
		}
	})
}

func (r bookingRepo) Insert(_ context.Context, b model.Booking) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; ok {
		return repository.ErrDuplicate
	}
	if b.PaymentRef != "" {
		for _, other := range s.bookings {
			if other.PaymentRef == b.PaymentRef {
				return repository.ErrDuplicate
			}
		}
	}
	r.put(b)
	return nil
}

func (r bookingRepo) Get(_ context.Context, id string) (model.Booking, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return model.Booking{}, repository.ErrNotFound
	}
	return b, nil
}

func (r bookingRepo) Update(_ context.Context, b model.Booking) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.bookings[b.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Status = b.Status
	cur.SpotsCommitted = b.SpotsCommitted
	cur.PaymentStatus = b.PaymentStatus
	cur.RefundRef = b.RefundRef
	cur.NeedsAudit = b.NeedsAudit
	cur.AuditReason = b.AuditReason
	cur.UpdatedAt = b.UpdatedAt
	r.put(cur)
	return nil
}

func (r bookingRepo) GetByPaymentRef(_ context.Context, ref string) (model.Booking, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if ref != "" && b.PaymentRef == ref {
			return b, nil
		}
	}
	return model.Booking{}, repository.ErrNotFound
}

func (r bookingRepo) ListByFingerprint(_ context.Context, fingerprint string) ([]model.Booking, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.Fingerprint == fingerprint {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return createdBefore(out[i], out[j]) })
	return out, nil
}

func (r bookingRepo) ListForReconcile(_ context.Context, scope repository.ReconcileScope, cutoff time.Time) ([]model.Booking, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		switch {
		case b.Status == model.BookingCancelled, !b.CreatedAt.Before(cutoff):
			continue
		case scope.CaregiverID != 0 && b.CaregiverID != scope.CaregiverID:
			continue
		case !scope.From.IsZero() && b.Date.Before(scope.From):
			continue
		case !scope.To.IsZero() && b.Date.After(scope.To):
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.CaregiverID != c.CaregiverID {
			return a.CaregiverID < c.CaregiverID
		}
		if cmp := a.Date.Compare(c.Date); cmp != 0 {
			return cmp < 0
		}
		if a.ParentID != c.ParentID {
			return a.ParentID < c.ParentID
		}
		return createdBefore(a, c)
	})
	return out, nil
}

func createdBefore(a, b model.Booking) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

type outboxRepo struct{ t *memTx }

func (r outboxRepo) Enqueue(_ context.Context, ev model.StatusEvent) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; ok {
		return repository.ErrDuplicate
	}
	s.events[ev.ID] = ev
	r.t.undo = append(r.t.undo, func() { delete(s.events, ev.ID) })
	return nil
}

func (r outboxRepo) ListPending(_ context.Context, limit int) ([]model.StatusEvent, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.StatusEvent
	for _, ev := range s.events {
		if ev.PublishedAt == nil {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r outboxRepo) MarkPublished(_ context.Context, id string, at time.Time) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	ev := prev
	ev.PublishedAt = &at
	s.events[id] = ev
	r.t.undo = append(r.t.undo, func() { s.events[id] = prev })
	return nil
}

type unmatchedRepo struct{ t *memTx }

func (r unmatchedRepo) put(p model.UnmatchedPayment) {
	s := r.t.s
	prev, existed := s.payments[p.PaymentRef]
	s.payments[p.PaymentRef] = p
	r.t.undo = append(r.t.undo, func() {
		if existed {
			s.payments[p.PaymentRef] = prev
		} else {
			delete(s.payments, p.PaymentRef)
		}
	})
}

func (r unmatchedRepo) Record(_ context.Context, p model.UnmatchedPayment) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	md := make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		md[k] = v
	}
	cur, ok := s.payments[p.PaymentRef]
	if !ok {
		cur = model.UnmatchedPayment{PaymentRef: p.PaymentRef, FirstSeenAt: p.LastSeenAt}
	}
	cur.EventID = p.EventID
	cur.Kind = p.Kind
	cur.AmountCents = p.AmountCents
	cur.Metadata = md
	cur.Reason = p.Reason
	cur.Attempts++
	cur.LastSeenAt = p.LastSeenAt
	r.put(cur)
	return nil
}

func (r unmatchedRepo) Get(_ context.Context, ref string) (model.UnmatchedPayment, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ref]
	if !ok {
		return model.UnmatchedPayment{}, repository.ErrNotFound
	}
	return p, nil
}

func (r unmatchedRepo) Resolve(_ context.Context, ref, bookingID string, at time.Time) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ref]
	if !ok || p.ResolvedAt != nil {
		return nil
	}
	p.BookingID = bookingID
	p.ResolvedAt = &at
	r.put(p)
	return nil
}

// Events returns every recorded status event, oldest first.
func (s *Store) Events() []model.StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.StatusEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
