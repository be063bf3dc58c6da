package main // process wiring for the booking API, workers and scheduled jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/cache"
	"github.com/iliyamo/caregiver-booking/internal/config"
	"github.com/iliyamo/caregiver-booking/internal/database"
	"github.com/iliyamo/caregiver-booking/internal/gateway"
	"github.com/iliyamo/caregiver-booking/internal/handler"
	"github.com/iliyamo/caregiver-booking/internal/jobs"
	"github.com/iliyamo/caregiver-booking/internal/logger"
	"github.com/iliyamo/caregiver-booking/internal/middleware"
	"github.com/iliyamo/caregiver-booking/internal/queue"
	"github.com/iliyamo/caregiver-booking/internal/repository"
	"github.com/iliyamo/caregiver-booking/internal/router"
	"github.com/iliyamo/caregiver-booking/internal/service"
	"github.com/iliyamo/caregiver-booking/internal/tasks"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	db, err := database.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.DB.Migrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	loc, err := cfg.Booking.Location()
	if err != nil {
		return err
	}
	rate, err := service.ParseCommissionRate(cfg.Booking.CommissionRate)
	if err != nil {
		return fmt.Errorf("BOOKING_COMMISSION_RATE: %w", err)
	}

	// Redis is optional: without it the rate limiter is off and the
	// availability cache is either process-local or disabled.
	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.Warn("redis unavailable; rate limiting disabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		defer rdb.Close()
	}
	avCache := newAvailabilityCache(cfg.Cache, rdb, log)

	deps := service.Deps{
		Store:     repository.NewMySQLStore(db),
		Directory: repository.NewUserRepo(db),
		Cache:     avCache,
		Log:       log.Named("core"),
	}
	stripeGW := gateway.NewStripe(cfg.Stripe, nil, log.Named("stripe"))

	var refunds service.RefundRequester
	taskOpt := tasks.RedisOpt(cfg.Redis, cfg.Tasks)
	if cfg.Tasks.Enabled {
		client := asynq.NewClient(taskOpt)
		defer client.Close()
		refunds = tasks.NewEnqueuer(client, log.Named("tasks"))
	} else {
		log.Warn("refund tasks disabled; cancelled paid bookings must be refunded by hand")
	}

	ledger := service.NewLedger(deps, cfg.Booking.HoldTTL)
	lifecycle := service.NewBookingLifecycle(deps, ledger, refunds, service.LifecycleConfig{
		Rate:         rate,
		Location:     loc,
		SafetyWindow: cfg.Booking.ReconcileSafetyWindow,
	})
	avail := service.NewAvailabilityCalculator(deps, cfg.Cache.TTL)
	slots := service.NewSlotManager(deps)
	payments := service.NewPaymentCallbacks(deps, ledger, lifecycle)

	publisher := queue.NewPublisher(cfg.RabbitMQ, log.Named("publisher"))
	defer publisher.Close()
	relay := service.NewOutboxRelay(deps, publisher)

	if cfg.Tasks.Enabled {
		worker := tasks.NewServer(taskOpt, cfg.Tasks, log.Named("worker"))
		if err := worker.Start(tasks.NewMux(stripeGW, lifecycle, log.Named("worker"))); err != nil {
			return fmt.Errorf("start task worker: %w", err)
		}
		defer worker.Shutdown()
	}

	if cfg.Jobs.Enabled {
		sched, err := jobs.New(cfg.Jobs, ledger, lifecycle, relay, log.Named("jobs"))
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			sched.Stop(sctx)
		}()
	}

	if cfg.RabbitMQ.Consume {
		sink, err := logger.NewFile(cfg.Log.EventFile, cfg.Log)
		if err != nil {
			return err
		}
		go func() {
			err := queue.StartStatusConsumer(ctx, cfg.RabbitMQ, sink, log.Named("consumer"))
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("status consumer stopped", zap.Error(err))
			}
		}()
	}

	e := newEcho(log)
	var limit echo.MiddlewareFunc
	ready := map[string]handler.Pinger{"mysql": db}
	if rdb != nil {
		limit = middleware.NewTokenBucket(cfg.RateLimit, rdb, log)
		ready["redis"] = pingRedis(rdb)
	}
	router.Register(e, router.Handlers{
		Booking:     handler.NewBookingHandler(avail, ledger, lifecycle, log),
		Slots:       handler.NewSlotHandler(slots, log),
		Payments:    handler.NewPaymentHandler(stripeGW, payments, log),
		Maintenance: handler.NewMaintenanceHandler(ledger, lifecycle, log),
		Ready:       handler.Ready(ready),
	}, cfg.JWTSecret, limit)

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", ":"+cfg.Port), zap.String("env", cfg.Env))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(sctx)
}

func newEcho(log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	access := log.Named("access")
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				access.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			access.Info("request", fields...)
			return nil
		},
	}))
	return e
}

func pingRedis(rdb *redis.Client) handler.PingFunc {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}

func newAvailabilityCache(cfg config.CacheConfig, rdb *redis.Client, log *zap.Logger) cache.Cache {
	switch {
	case !cfg.Enabled:
		return cache.Nop{}
	case cfg.Backend == "memory":
		log.Info("availability cache is process-local; run a single instance")
		return cache.NewMemory()
	case rdb == nil:
		log.Warn("availability cache disabled: redis backend without a redis client")
		return cache.Nop{}
	}
	return cache.NewRedis(cfg, rdb)
}
