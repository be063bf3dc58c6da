package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/caregiver-booking/internal/middleware"
	"github.com/iliyamo/caregiver-booking/internal/model"
)

// RegisterBooking registers the authenticated reservation routes under /v1.
// Holds are placed by parents; bookings are read and moved by either party
// and by admins, with ownership checked in the handler.
func RegisterBooking(e *echo.Echo, h Handlers, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))

	parent := append([]echo.MiddlewareFunc{middleware.RequireRole(model.RoleParent, model.RoleAdmin)}, optional(limit)...)
	g.POST("/holds", h.Booking.Reserve, parent...)
	g.GET("/holds/:id", h.Booking.GetHold, parent...)
	g.DELETE("/holds/:id", h.Booking.ReleaseHold, parent...)

	anyone := middleware.RequireRole(model.RoleParent, model.RoleCaregiver, model.RoleAdmin)
	g.GET("/bookings/:id", h.Booking.GetBooking, anyone)
	g.PATCH("/bookings/:id", h.Booking.UpdateStatus, anyone)

	g.PUT("/caregivers/:id/slots", h.Slots.PutSlot, middleware.RequireRole(model.RoleCaregiver, model.RoleAdmin))
}
