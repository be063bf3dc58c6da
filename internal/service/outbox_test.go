package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/caregiver-booking/internal/model"
)

type fakePublisher struct {
	sent   []model.StatusEvent
	failAt int
}

func (p *fakePublisher) PublishStatusChanged(_ context.Context, ev model.StatusEvent) error {
	if p.failAt > 0 && len(p.sent)+1 == p.failAt {
		p.failAt = 0
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, ev)
	return nil
}

func TestRelayPublishesInOrderOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, day, "", 1)
	h := f.hold(t, day, 1)
	bk, _, err := f.life.CreateBooking(ctx, f.request("09:00-12:00", "pi_1", h.ID))
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.life.UpdateStatus(ctx, bk.ID, model.BookingConfirmed, model.SystemActor)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.life.UpdateStatus(ctx, bk.ID, model.BookingCancelled, model.Actor{ID: parentID, Role: model.RoleParent})
	require.NoError(t, err)

	pub := &fakePublisher{failAt: 2}
	relay := NewOutboxRelay(f.deps, pub)

	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "stops at the first failure")

	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.Len(t, pub.sent, 3)
	assert.Equal(t, model.BookingPending, pub.sent[0].NewStatus)
	assert.Equal(t, model.BookingConfirmed, pub.sent[1].NewStatus)
	assert.Equal(t, model.BookingCancelled, pub.sent[2].NewStatus)
	assert.Equal(t, model.BookingConfirmed, pub.sent[2].OldStatus)
	for _, ev := range f.store.Events() {
		assert.NotNil(t, ev.PublishedAt)
	}
}
