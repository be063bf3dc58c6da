// Package gateway adapts the Stripe payment processor to the booking core:
// it verifies webhook deliveries, turns payment intents into gateway-neutral
// payment events and issues refunds.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/config"
	"github.com/iliyamo/caregiver-booking/internal/model"
)

var (
	// ErrSignature is returned for deliveries that fail verification.
	ErrSignature = errors.New("invalid webhook signature")
	// ErrIgnored marks event types the booking core does not act on.
	ErrIgnored = errors.New("event type ignored")
	// ErrNotConfigured is returned when the secret key is missing.
	ErrNotConfigured = errors.New("payment gateway not configured")
)

// Stripe event types mapped to payment events.
const (
	eventAuthorized = "payment_intent.amount_capturable_updated"
	eventSucceeded  = "payment_intent.succeeded"
	eventFailed     = "payment_intent.payment_failed"
	eventCanceled   = "payment_intent.canceled"
)

// Stripe is the payment gateway adapter.
type Stripe struct {
	webhookSecret string
	api           *client.API
	log           *zap.Logger
}

// NewStripe builds the adapter.  backends may be nil to talk to Stripe
// itself; tests point it at a local server.
func NewStripe(cfg config.Stripe, backends *stripe.Backends, log *zap.Logger) *Stripe {
	s := &Stripe{webhookSecret: cfg.WebhookSecret, log: log}
	if cfg.SecretKey != "" {
		s.api = client.New(cfg.SecretKey, backends)
	}
	return s
}

// ParseWebhook verifies the Stripe-Signature header and converts the
// event.  Event types other than the payment intent lifecycle return
// ErrIgnored.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (model.PaymentEvent, error) {
	if s.webhookSecret == "" {
		return model.PaymentEvent{}, ErrNotConfigured
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return model.PaymentEvent{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	var kind model.PaymentEventKind
	switch string(ev.Type) {
	case eventAuthorized:
		kind = model.PaymentAuthorized
	case eventSucceeded:
		kind = model.PaymentSucceeded
	case eventFailed, eventCanceled:
		kind = model.PaymentDeclined
	default:
		return model.PaymentEvent{}, fmt.Errorf("%w: %s", ErrIgnored, ev.Type)
	}
	if ev.Data == nil {
		return model.PaymentEvent{}, fmt.Errorf("%w: event %s has no data", ErrMetadata, ev.ID)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return model.PaymentEvent{}, fmt.Errorf("%w: event %s: %v", ErrMetadata, ev.ID, err)
	}

	out := model.PaymentEvent{
		EventID:          ev.ID,
		Kind:             kind,
		PaymentRef:       pi.ID,
		AmountCents:      pi.Amount,
		PlatformFeeCents: pi.ApplicationFeeAmount,
		Raw:              pi.Metadata,
	}
	md, err := ParseMetadata(pi.Metadata)
	if err != nil {
		// A declined payment only needs its hold; the rest may be incomplete.
		// Other kinds return the event so the caller can record the payment.
		if kind != model.PaymentDeclined {
			return out, fmt.Errorf("payment %s: %w", pi.ID, err)
		}
		md = model.BookingMetadata{HoldID: pi.Metadata[MetaHoldID]}
	}
	out.Metadata = md
	return out, nil
}

// Refund returns amountCents of the payment.  The idempotency key makes a
// retried refund task safe; the refund id is returned.
func (s *Stripe) Refund(ctx context.Context, paymentRef string, amountCents int64, idempotencyKey string) (string, error) {
	if s.api == nil {
		return "", ErrNotConfigured
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentRef),
		Amount:        stripe.Int64(amountCents),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	r, err := s.api.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe refund %s: %w", paymentRef, err)
	}
	s.log.Info("stripe refund created",
		zap.String("payment_ref", paymentRef),
		zap.String("refund_id", r.ID),
		zap.String("status", string(r.Status)))
	return r.ID, nil
}
