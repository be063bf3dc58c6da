package router // package router registers the HTTP routes of the booking API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/caregiver-booking/internal/handler"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Booking     *handler.BookingHandler
	Slots       *handler.SlotHandler
	Payments    *handler.PaymentHandler
	Maintenance *handler.MaintenanceHandler
	// Ready backs /readyz; nil registers only the liveness probe.
	Ready echo.HandlerFunc
}

// Register mounts every route.  limit is applied to the public and parent
// facing routes; pass nil to disable rate limiting.
func Register(e *echo.Echo, h Handlers, jwtSecret string, limit echo.MiddlewareFunc) {
	RegisterRoutes(e, h.Ready)
	RegisterPublic(e, h, limit)
	RegisterBooking(e, h, jwtSecret, limit)
	RegisterAdmin(e, h.Maintenance, jwtSecret)
}

// RegisterRoutes registers the unauthenticated probes.
func RegisterRoutes(e *echo.Echo, ready echo.HandlerFunc) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready)
	}
}

// RegisterPublic registers routes that need no token: availability reads
// and the gateway webhook, which authenticates by signature.
func RegisterPublic(e *echo.Echo, h Handlers, limit echo.MiddlewareFunc) {
	e.GET("/v1/caregivers/:id/availability", h.Booking.GetAvailability, optional(limit)...)
	e.POST("/v1/payments/webhook", h.Payments.Webhook)
}

func optional(m echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if m == nil {
		return nil
	}
	return []echo.MiddlewareFunc{m}
}
