package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/repository"
	"github.com/iliyamo/caregiver-booking/internal/service"
)

// MaintenanceHandler exposes the sweep and the duplicate reconciliation
// so operators and external schedulers can trigger them.  Both are safe
// to repeat.
type MaintenanceHandler struct {
	Ledger    *service.Ledger
	Lifecycle *service.BookingLifecycle
	Log       *zap.Logger
}

func NewMaintenanceHandler(ledger *service.Ledger, life *service.BookingLifecycle, log *zap.Logger) *MaintenanceHandler {
	if ledger == nil || life == nil {
		panic("nil service passed to NewMaintenanceHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MaintenanceHandler{Ledger: ledger, Lifecycle: life, Log: log.Named("http")}
}

// CleanupExpiredHolds handles GET /v1/cleanup/expired-holds.
func (h *MaintenanceHandler) CleanupExpiredHolds(c echo.Context) error {
	n, err := h.Ledger.SweepExpired(c.Request().Context(), h.Ledger.Now())
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": n})
}

// Reconcile handles POST /v1/admin/bookings/reconcile.  The body is
// optional; an empty scope scans everything older than the safety window.
func (h *MaintenanceHandler) Reconcile(c echo.Context) error {
	var scope repository.ReconcileScope
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&scope); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	report, err := h.Lifecycle.DetectAndReconcileDuplicates(c.Request().Context(), scope)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, report)
}
