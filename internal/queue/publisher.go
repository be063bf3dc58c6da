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
    "github.com/iliyamo/caregiver-booking/internal/model"
)

// ErrNotConfirmed is returned when the broker negatively acknowledges a
// message.
var ErrNotConfirmed = errors.New("rabbitmq: publish not confirmed")

// Publisher publishes status events to a durable topic exchange over one
// long-lived channel in confirm mode.  The connection is opened on first
// use and reopened after any failure, so a broker outage only delays the
// outbox relay.
type Publisher struct {
    url      string
    exchange string
    log      *zap.Logger

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

func NewPublisher(cfg config.RabbitMQ, log *zap.Logger) *Publisher {
    return &Publisher{url: cfg.URL, exchange: cfg.Exchange, log: log}
}

// channel returns the open channel, dialling when needed.  p.mu is held.
func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.reset()
    conn, err := amqp.Dial(p.url)
    if err != nil {
        return nil, fmt.Errorf("rabbitmq: dial: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
    }
    if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, fmt.Errorf("rabbitmq: exchange declare: %w", err)
    }
    if err := ch.Confirm(false); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, fmt.Errorf("rabbitmq: confirm mode: %w", err)
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.conn, p.ch = nil, nil
}

// PublishStatusChanged publishes one event and waits for the broker to
// confirm it.  Messages are persistent and carry the event id as their
// message id.
func (p *Publisher) PublishStatusChanged(ctx context.Context, ev model.StatusEvent) error {
    msg := NewStatusChangedEvent(ev)
    body, err := json.Marshal(msg)
    if err != nil {
        return err
    }

    p.mu.Lock()
    defer p.mu.Unlock()
    ch, err := p.channel()
    if err != nil {
        p.log.Warn("rabbitmq unavailable", zap.Error(err))
        return err
    }
    dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, msg.RoutingKey(), false, false, amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    msg.EventID,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    })
    if err != nil {
        p.reset()
        return fmt.Errorf("rabbitmq: publish: %w", err)
    }
    ok, err := dc.WaitContext(ctx)
    if err != nil {
        p.reset()
        return fmt.Errorf("rabbitmq: confirm: %w", err)
    }
    if !ok {
        return ErrNotConfirmed
    }
    return nil
}

// Close releases the connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.reset()
    return nil
}
