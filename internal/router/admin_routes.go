package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/caregiver-booking/internal/handler"
	"github.com/iliyamo/caregiver-booking/internal/middleware"
	"github.com/iliyamo/caregiver-booking/internal/model"
)

// RegisterAdmin registers the maintenance triggers.  The cron scheduler
// runs the same operations; these routes let an operator or an external
// scheduler run them on demand.
func RegisterAdmin(e *echo.Echo, h *handler.MaintenanceHandler, jwtSecret string) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin))
	g.GET("/cleanup/expired-holds", h.CleanupExpiredHolds)
	g.POST("/admin/bookings/reconcile", h.Reconcile)
}
