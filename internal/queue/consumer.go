package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"

    "github.com/iliyamo/caregiver-booking/internal/config"
)

// dedupeWindow is how many recent event ids the consumer remembers.
const dedupeWindow = 10_000

// StartStatusConsumer binds the log queue to every status routing key and
// writes one structured line per event to sink.  It reconnects with
// backoff until ctx is cancelled.  Messages that cannot be decoded are
// rejected without requeue so a poison message cannot spin the loop.
func StartStatusConsumer(ctx context.Context, cfg config.RabbitMQ, sink, log *zap.Logger) error {
    h := newStatusLog(sink)
    backoff := time.Second
    for {
        conn, err := amqp.Dial(cfg.URL)
        if err != nil {
            log.Warn("status consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
            select {
            case <-ctx.Done():
                return ctx.Err()
            case <-time.After(backoff):
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, cfg, h, log)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Warn("status consumer: loop ended, reconnecting", zap.Error(err))
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-time.After(2 * time.Second):
        }
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, cfg config.RabbitMQ, h *statusLog, log *zap.Logger) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.Warn("status consumer: set QoS failed", zap.Error(err))
    }
    if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
        return fmt.Errorf("exchange declare: %w", err)
    }
    q, err := ch.QueueDeclare(cfg.LogQueue, true, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    if err := ch.QueueBind(q.Name, StatusRoutingPrefix+"*", cfg.Exchange, false, nil); err != nil {
        return fmt.Errorf("queue bind: %w", err)
    }
    msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for d := range msgs {
        if err := h.handle(d.Body); err != nil {
            log.Warn("status consumer: message rejected", zap.Error(err))
            _ = d.Nack(false, false)
            continue
        }
        _ = d.Ack(false)
    }
    return errors.New("deliveries channel closed")
}

// statusLog writes the event log and drops redelivered events.
type statusLog struct {
    sink *zap.Logger
    seen *recentIDs
}

func newStatusLog(sink *zap.Logger) *statusLog {
    return &statusLog{sink: sink, seen: newRecentIDs(dedupeWindow)}
}

func (h *statusLog) handle(body []byte) error {
    var ev BookingStatusChangedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.EventID == "" || ev.BookingID == "" {
        return errors.New("event without id")
    }
    if !h.seen.add(ev.EventID) {
        return nil
    }
    h.sink.Info("booking status changed",
        zap.String("event_id", ev.EventID),
        zap.String("booking_id", ev.BookingID),
        zap.String("old_status", ev.OldStatus),
        zap.String("new_status", ev.NewStatus),
        zap.String("actor_role", ev.ActorRole),
        zap.String("occurred_at", ev.OccurredAt))
    return nil
}

// recentIDs is a fixed-size set that forgets the oldest id first.
type recentIDs struct {
    mu   sync.Mutex
    ids  map[string]struct{}
    ring []string
    next int
}

func newRecentIDs(n int) *recentIDs {
    return &recentIDs{ids: make(map[string]struct{}, n), ring: make([]string, n)}
}

// add reports whether id was not seen before.
func (r *recentIDs) add(id string) bool {
    r.mu.Lock()
    defer r.mu.Unlock()
    if _, ok := r.ids[id]; ok {
        return false
    }
    if old := r.ring[r.next]; old != "" {
        delete(r.ids, old)
    }
    r.ring[r.next] = id
    r.next = (r.next + 1) % len(r.ring)
    r.ids[id] = struct{}{}
    return true
}
