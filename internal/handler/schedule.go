package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gezgintur/tour-booking/internal/service"
)

// ScheduleHandler exposes the catalog-facing schedule intake and the
// public availability read.
type ScheduleHandler struct {
	svc *service.BookingService
}

// NewScheduleHandler constructs a ScheduleHandler.
func NewScheduleHandler(svc *service.BookingService) *ScheduleHandler {
	if svc == nil {
		panic("nil service passed to NewScheduleHandler")
	}
	return &ScheduleHandler{svc: svc}
}

type registerScheduleRequest struct {
	ScheduleID string `json:"schedule_id" validate:"required,max=64"`
	TotalSeats int    `json:"total_seats" validate:"min=0"`
}

// Register handles POST /v1/schedules.  The catalog service announces
// a departure and its fixed seat total here; the counters start empty.
func (h *ScheduleHandler) Register(c echo.Context) error {
	var req registerScheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	s, err := h.svc.RegisterSchedule(c.Request().Context(), req.ScheduleID, req.TotalSeats)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"schedule_id": s.ID,
		"total_seats": s.TotalSeats,
	})
}

// Availability handles GET /v1/schedules/:id/availability and returns
// the live seat counters.
func (h *ScheduleHandler) Availability(c echo.Context) error {
	s, err := h.svc.ScheduleAvailability(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"schedule_id":     s.ID,
		"total_seats":     s.TotalSeats,
		"held_seats":      s.HeldSeats,
		"committed_seats": s.CommittedSeats,
		"available_seats": s.AvailableSeats(),
	})
}
