package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/gateway"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/service"
)

// maxWebhookBody matches the payload ceiling Stripe documents for events.
const maxWebhookBody = 64 << 10

// WebhookVerifier authenticates and decodes a raw gateway callback.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, signature string) (model.PaymentEvent, error)
}

// PaymentProcessor applies a verified payment event.  RecordUnreadable
// keeps a payment whose metadata could not be parsed.
type PaymentProcessor interface {
	Handle(ctx context.Context, ev model.PaymentEvent) (service.PaymentResult, error)
	RecordUnreadable(ctx context.Context, ev model.PaymentEvent, cause error) error
}

// PaymentHandler receives gateway webhooks.
type PaymentHandler struct {
	Verifier  WebhookVerifier
	Callbacks PaymentProcessor
	Log       *zap.Logger
}

func NewPaymentHandler(v WebhookVerifier, p PaymentProcessor, log *zap.Logger) *PaymentHandler {
	if v == nil || p == nil {
		panic("nil dependency passed to NewPaymentHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{Verifier: v, Callbacks: p, Log: log.Named("webhook")}
}

// Webhook handles POST /v1/payments/webhook.  A 2xx tells the gateway to
// stop redelivering, so anything that leaves money unaccounted for answers
// 4xx/5xx and is retried.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxWebhookBody))
	if err != nil {
		return badRequest(c, "unreadable body")
	}
	ev, err := h.Verifier.ParseWebhook(payload, c.Request().Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, gateway.ErrIgnored):
		return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
	case errors.Is(err, gateway.ErrSignature):
		h.Log.Warn("webhook signature rejected", zap.Error(err))
		return badRequest(c, "invalid signature")
	case errors.Is(err, gateway.ErrNotConfigured):
		h.Log.Error("webhook received but gateway is not configured")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payments not configured"})
	case errors.Is(err, gateway.ErrMetadata):
		h.Log.Error("payment callback metadata unreadable",
			zap.String("payment_ref", ev.PaymentRef), zap.Error(err), zap.Bool("alert", true))
		if rerr := h.Callbacks.RecordUnreadable(c.Request().Context(), ev, err); rerr != nil {
			h.Log.Error("unreadable payment could not be recorded",
				zap.String("payment_ref", ev.PaymentRef), zap.Error(rerr), zap.Bool("alert", true))
		}
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case err != nil:
		return fail(c, h.Log, err)
	}

	res, err := h.Callbacks.Handle(c.Request().Context(), ev)
	if err != nil {
		return fail(c, h.Log, err)
	}
	out := echo.Map{"status": "processed", "created": res.Created}
	if res.Booking != nil {
		out["booking_id"] = res.Booking.ID
		out["booking_status"] = res.Booking.Status
	}
	return c.JSON(http.StatusOK, out)
}
