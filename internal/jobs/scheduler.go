// Package jobs schedules the maintenance work of the booking core: the
// expired hold sweep, duplicate reconciliation and the outbox relay.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/config"
	"github.com/iliyamo/caregiver-booking/internal/repository"
	"github.com/iliyamo/caregiver-booking/internal/service"
)

// Sweeper expires holds past their TTL.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Reconciler cancels duplicate bookings.
type Reconciler interface {
	DetectAndReconcileDuplicates(ctx context.Context, scope repository.ReconcileScope) (service.ReconcileReport, error)
}

// Relay publishes pending status events.
type Relay interface {
	RelayOnce(ctx context.Context) (int, error)
}

// jobTimeout bounds one run of any job.
const jobTimeout = 2 * time.Minute

// Scheduler wraps a cron instance.  Overlapping runs of the same job are
// skipped and panics are recovered and logged.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
	ctx  context.Context
	stop context.CancelFunc
}

// New registers the three jobs on their schedules.
func New(cfg config.Jobs, sweeper Sweeper, reconciler Reconciler, relay Relay, log *zap.Logger) (*Scheduler, error) {
	clog := cron.PrintfLogger(zap.NewStdLog(log))
	c := cron.New(cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
	ctx, stop := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, log: log, ctx: ctx, stop: stop}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"sweep_expired_holds", cfg.SweepSchedule, func(ctx context.Context) error {
			n, err := sweeper.SweepExpired(ctx, time.Now())
			if err == nil && n > 0 {
				log.Info("job swept holds", zap.Int("expired", n))
			}
			return err
		}},
		{"reconcile_duplicates", cfg.ReconcileSchedule, func(ctx context.Context) error {
			_, err := reconciler.DetectAndReconcileDuplicates(ctx, repository.ReconcileScope{})
			return err
		}},
		{"relay_outbox", cfg.OutboxSchedule, func(ctx context.Context) error {
			_, err := relay.RelayOnce(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, s.wrap(j.name, j.run)); err != nil {
			stop()
			return nil, fmt.Errorf("jobs: schedule %s %q: %w", j.name, j.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()
		start := time.Now()
		if err := run(ctx); err != nil {
			s.log.Error("job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	}
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels running jobs and waits for them to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }
