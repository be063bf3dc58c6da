package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/calendar"
	"github.com/iliyamo/caregiver-booking/internal/middleware"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/service"
)

// BookingHandler serves availability, holds and booking status changes.
// Routes that need a caller run behind JWTAuth; the handler checks that
// the caller owns the hold or booking it touches.
type BookingHandler struct {
	Availability *service.AvailabilityCalculator
	Ledger       *service.Ledger
	Lifecycle    *service.BookingLifecycle
	Log          *zap.Logger
}

// NewBookingHandler panics on a nil service, like the other constructors
// in this package.
func NewBookingHandler(avail *service.AvailabilityCalculator, ledger *service.Ledger, life *service.BookingLifecycle, log *zap.Logger) *BookingHandler {
	if avail == nil || ledger == nil || life == nil {
		panic("nil service passed to NewBookingHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingHandler{Availability: avail, Ledger: ledger, Lifecycle: life, Log: log.Named("http")}
}

func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// GetAvailability handles GET /v1/caregivers/:id/availability?date=YYYY-MM-DD.
func (h *BookingHandler) GetAvailability(c echo.Context) error {
	caregiverID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid caregiver id")
	}
	date, err := calendar.Parse(c.QueryParam("date"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	windows, err := h.Availability.GetRealTimeAvailability(c.Request().Context(), caregiverID, date)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"caregiver_id": caregiverID,
		"date":         date,
		"windows":      windows,
	})
}

type reserveBody struct {
	CaregiverID uint64          `json:"caregiver_id"`
	Date        calendar.Date   `json:"date"`
	Window      calendar.Window `json:"window"`
	Spots       int             `json:"spots"`
}

// Reserve handles POST /v1/holds.  On success the client has until
// expires_at to complete payment; 409 means the slot filled up.
func (h *BookingHandler) Reserve(c echo.Context) error {
	actor, ok := middleware.Actor(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body reserveBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Spots == 0 {
		body.Spots = 1
	}
	hold, err := h.Ledger.CreateHold(c.Request().Context(), service.HoldRequest{
		CaregiverID: body.CaregiverID,
		Date:        body.Date,
		Window:      body.Window,
		Spots:       body.Spots,
		RequesterID: actor.ID,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, hold)
}

// ownHold loads a hold the caller may see: its requester or an admin.
func (h *BookingHandler) ownHold(c echo.Context) (model.Hold, error) {
	actor, _ := middleware.Actor(c)
	hold, err := h.Ledger.GetHold(c.Request().Context(), c.Param("id"))
	if err != nil {
		return model.Hold{}, err
	}
	if actor.Role != model.RoleAdmin && hold.RequesterID != actor.ID {
		// Someone else's hold looks the same as a missing one.
		return model.Hold{}, service.ErrNotFound
	}
	return hold, nil
}

// GetHold handles GET /v1/holds/:id.
func (h *BookingHandler) GetHold(c echo.Context) error {
	hold, err := h.ownHold(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, hold)
}

// ReleaseHold handles DELETE /v1/holds/:id.  Releasing twice is fine.
func (h *BookingHandler) ReleaseHold(c echo.Context) error {
	hold, err := h.ownHold(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if err := h.Ledger.ReleaseHold(c.Request().Context(), hold.ID); err != nil {
		return fail(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// canSee reports whether actor is a party to b or an admin.
func canSee(actor model.Actor, b model.Booking) bool {
	switch actor.Role {
	case model.RoleAdmin:
		return true
	case model.RoleParent:
		return b.ParentID == actor.ID
	case model.RoleCaregiver:
		return b.CaregiverID == actor.ID
	}
	return false
}

// mayMove is the authorization policy for status changes.  Parents can
// only cancel.  Caregivers drive their own engagements.  Admins can make
// any legal transition.
func mayMove(actor model.Actor, to model.BookingStatus) bool {
	switch actor.Role {
	case model.RoleAdmin:
		return true
	case model.RoleParent:
		return to == model.BookingCancelled
	case model.RoleCaregiver:
		return to != model.BookingPending
	}
	return false
}

// GetBooking handles GET /v1/bookings/:id.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	actor, _ := middleware.Actor(c)
	b, err := h.Lifecycle.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	if !canSee(actor, b) {
		return fail(c, h.Log, service.ErrNotFound)
	}
	return c.JSON(http.StatusOK, b)
}

// UpdateStatus handles PATCH /v1/bookings/:id with {"status": "..."}.
func (h *BookingHandler) UpdateStatus(c echo.Context) error {
	actor, _ := middleware.Actor(c)
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	to, ok := model.ParseBookingStatus(strings.ToUpper(strings.TrimSpace(body.Status)))
	if !ok {
		return badRequest(c, "unknown status")
	}

	ctx := c.Request().Context()
	b, err := h.Lifecycle.Get(ctx, c.Param("id"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	if !canSee(actor, b) {
		return fail(c, h.Log, service.ErrNotFound)
	}
	if !mayMove(actor, to) {
		return fail(c, h.Log, service.ErrForbidden)
	}
	updated, err := h.Lifecycle.UpdateStatus(ctx, b.ID, to, actor)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, updated)
}
