package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/caregiver-booking/internal/middleware"
	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/service"
)

// SlotHandler lets caregivers publish capacity.
type SlotHandler struct {
	Slots *service.SlotManager
	Log   *zap.Logger
}

func NewSlotHandler(slots *service.SlotManager, log *zap.Logger) *SlotHandler {
	if slots == nil {
		panic("nil service passed to NewSlotHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SlotHandler{Slots: slots, Log: log.Named("http")}
}

// PutSlot handles PUT /v1/caregivers/:id/slots.  Caregivers may only
// manage their own slots.
func (h *SlotHandler) PutSlot(c echo.Context) error {
	caregiverID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid caregiver id")
	}
	actor, _ := middleware.Actor(c)
	if actor.Role != model.RoleAdmin && actor.ID != caregiverID {
		return fail(c, h.Log, service.ErrForbidden)
	}
	var in service.SlotInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	in.CaregiverID = caregiverID
	out, err := h.Slots.UpsertSlot(c.Request().Context(), in)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, out)
}
