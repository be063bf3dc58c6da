// Package tasks runs gateway side effects on an asynq queue backed by
// Redis so that a slow or failing gateway never blocks a booking
// transaction.  Failed tasks are retried by asynq.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/config"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/service"
)

// TypeRefund is the task type of a payment refund.
const TypeRefund = "payment:refund"

// QueueRefunds is the queue refund tasks run on.
const QueueRefunds = "refunds"

// NewRefundTask builds a refund task.  The task id is derived from the
// payment so that enqueueing the same refund twice keeps one task, while a
// duplicate capture refunded against a kept booking gets its own task.
func NewRefundTask(r service.RefundRequest) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeRefund, b)
	opts := []asynq.Option{
		asynq.Queue(QueueRefunds),
		asynq.TaskID("refund:" + r.PaymentRef),
		asynq.MaxRetry(10),
		asynq.Timeout(30 * time.Second),
	}
	return task, opts, nil
}

// RedisOpt converts the Redis settings for asynq.  Tasks live in their own
// logical database.
func RedisOpt(r config.RedisConfig, t config.Tasks) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:      r.Addr,
		Password:  r.Password,
		DB:        t.RedisDB,
		TLSConfig: r.TLSConfig(),
	}
}

// Enqueuer implements service.RefundRequester on an asynq client.
type Enqueuer struct {
	client *asynq.Client
	log    *zap.Logger
}

func NewEnqueuer(client *asynq.Client, log *zap.Logger) *Enqueuer {
	return &Enqueuer{client: client, log: log}
}

// RequestRefund enqueues the refund.  A task already queued for the same
// payment counts as success.
func (e *Enqueuer) RequestRefund(ctx context.Context, r service.RefundRequest) error {
	task, opts, err := NewRefundTask(r)
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		e.log.Info("refund already queued", zap.String("booking_id", r.BookingID), zap.String("payment_ref", r.PaymentRef))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue refund: %w", err)
	}
	e.log.Info("refund queued", zap.String("booking_id", r.BookingID), zap.String("task_id", info.ID), zap.String("queue", info.Queue))
	return nil
}

// Refunder issues refunds at the payment gateway.
type Refunder interface {
	Refund(ctx context.Context, paymentRef string, amountCents int64, idempotencyKey string) (string, error)
}

// RefundRecorder records a completed refund of paymentRef on the booking.
type RefundRecorder interface {
	MarkRefunded(ctx context.Context, bookingID, paymentRef, refundRef string) (model.Booking, error)
}

// HandleRefund returns the asynq handler for TypeRefund.  A malformed
// payload is skipped rather than retried forever.
func HandleRefund(gw Refunder, bookings RefundRecorder, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var r service.RefundRequest
		if err := json.Unmarshal(task.Payload(), &r); err != nil {
			log.Error("refund task payload invalid", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		refundID, err := gw.Refund(ctx, r.PaymentRef, r.AmountCents, "refund-"+r.PaymentRef)
		if err != nil {
			log.Warn("refund attempt failed", zap.String("booking_id", r.BookingID), zap.Error(err))
			return err
		}
		if _, err := bookings.MarkRefunded(ctx, r.BookingID, r.PaymentRef, refundID); err != nil {
			return fmt.Errorf("record refund %s: %w", refundID, err)
		}
		return nil
	}
}

// NewServer builds the asynq worker server.
func NewServer(opt asynq.RedisClientOpt, cfg config.Tasks, log *zap.Logger) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{QueueRefunds: 1},
		Logger:      log.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			l := log.With(zap.String("type", task.Type()), zap.Int("retry", retried), zap.Error(err))
			if retried >= maxRetry {
				l.Error("task exhausted retries", zap.Bool("alert", true))
				return
			}
			l.Warn("task failed")
		}),
	})
}

// NewMux registers the task handlers.
func NewMux(gw Refunder, bookings RefundRecorder, log *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRefund, HandleRefund(gw, bookings, log))
	return mux
}
