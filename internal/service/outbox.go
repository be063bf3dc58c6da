package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
)

// relayBatch bounds the events published per run.
const relayBatch = 100

// EventPublisher delivers status events to downstream consumers.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, ev model.StatusEvent) error
}

// OutboxRelay publishes the status events that transitions wrote to the
// outbox.  An event is marked published only after the broker accepted it,
// so a crash between the two publishes it again; consumers drop repeats by
// event id.
type OutboxRelay struct {
	deps Deps
	pub  EventPublisher
	log  *zap.Logger
}

func NewOutboxRelay(d Deps, pub EventPublisher) *OutboxRelay {
	d = d.withDefaults()
	return &OutboxRelay{deps: d, pub: pub, log: d.Log.Named("outbox")}
}

// RelayOnce publishes up to one batch of pending events in order and
// returns how many went out.  It stops at the first publish failure so
// later events never overtake an earlier one.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	sent := 0
	err := r.deps.Store.WithTx(ctx, func(tx repository.Tx) error {
		sent = 0
		pending, err := tx.Outbox().ListPending(ctx, relayBatch)
		if err != nil {
			return err
		}
		for _, ev := range pending {
			if err := r.pub.PublishStatusChanged(ctx, ev); err != nil {
				r.log.Warn("status event publish failed", zap.String("event_id", ev.ID), zap.Error(err))
				return nil
			}
			if err := tx.Outbox().MarkPublished(ctx, ev.ID, r.deps.now()); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if sent > 0 {
		r.log.Debug("status events relayed", zap.Int("count", sent))
	}
	return sent, nil
}
