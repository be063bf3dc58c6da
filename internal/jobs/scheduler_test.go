package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/caregiver-booking/internal/config"
	"github.com/iliyamo/caregiver-booking/internal/repository"
	"github.com/iliyamo/caregiver-booking/internal/service"
)

type counters struct {
	sweeps, reconciles, relays atomic.Int32
}

func (c *counters) SweepExpired(context.Context, time.Time) (int, error) {
	c.sweeps.Add(1)
	return 1, nil
}

func (c *counters) DetectAndReconcileDuplicates(context.Context, repository.ReconcileScope) (service.ReconcileReport, error) {
	c.reconciles.Add(1)
	return service.ReconcileReport{}, errors.New("db down")
}

func (c *counters) RelayOnce(context.Context) (int, error) {
	c.relays.Add(1)
	return 0, nil
}

func TestSchedulerRunsJobs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := &counters{}
	s, err := New(config.Jobs{SweepSchedule: "@every 1s", ReconcileSchedule: "@every 1s", OutboxSchedule: "@every 1s"}, c, c, c, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Entries())

	s.Start()
	assert.Eventually(t, func() bool {
		return c.sweeps.Load() > 0 && c.reconciles.Load() > 0 && c.relays.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	assert.Positive(t, logs.FilterMessage("job failed").Len())
	assert.Positive(t, logs.FilterMessage("job swept holds").Len())
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	c := &counters{}
	_, err := New(config.Jobs{SweepSchedule: "every now and then", ReconcileSchedule: "@hourly", OutboxSchedule: "@every 10s"}, c, c, c, zap.NewNop())
	assert.Error(t, err)
}
