// Package handler contains the HTTP handlers.  Handlers translate
// between JSON payloads and service calls; all booking semantics live
// in the service layer.
package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gezgintur/tour-booking/internal/model"
	"github.com/gezgintur/tour-booking/internal/service"
)

// gatewayTokenHeader carries the shared secret on payment callbacks.
const gatewayTokenHeader = "X-Gateway-Token"

// BookingHandler exposes the booking lifecycle over HTTP: creation,
// status, cancellation, admin payment confirmation and the payment
// gateway callback.
type BookingHandler struct {
	svc          *service.BookingService
	gatewayToken string
}

// NewBookingHandler constructs a BookingHandler.  The gateway token
// authenticates payment callbacks and must be non-empty.
func NewBookingHandler(svc *service.BookingService, gatewayToken string) *BookingHandler {
	if svc == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{svc: svc, gatewayToken: gatewayToken}
}

type createBookingRequest struct {
	ScheduleID string `json:"schedule_id" validate:"required"`
	PartySize  int    `json:"party_size" validate:"required,min=1"`
}

// CreateBooking handles POST /v1/bookings.  It reserves the requested
// seats and returns the new HELD booking with its hold deadline, or
// 409 when the schedule has no capacity left.
func (h *BookingHandler) CreateBooking(c echo.Context) error {
	var req createBookingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	b, err := h.svc.CreateBooking(c.Request().Context(), req.ScheduleID, req.PartySize)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"booking_id":      b.ID,
		"state":           b.State,
		"hold_token":      b.HoldToken,
		"hold_expires_at": b.HoldExpiresAt.Format(time.RFC3339),
	})
}

// GetBooking handles GET /v1/bookings/:id and reports the booking's
// state and hold deadline.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	b, err := h.svc.GetBooking(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"booking_id":      b.ID,
		"schedule_id":     b.ScheduleID,
		"party_size":      b.PartySize,
		"state":           b.State,
		"hold_expires_at": b.HoldExpiresAt.Format(time.RFC3339),
	})
}

type cancelBookingRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// CancelBooking handles DELETE /v1/bookings/:id.  Only HELD bookings
// can be cancelled; anything else answers 409 rather than silently
// succeeding.
func (h *BookingHandler) CancelBooking(c echo.Context) error {
	var req cancelBookingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := h.svc.CancelBooking(c.Request().Context(), c.Param("id"), req.Reason); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"state": model.StateCancelled})
}

type confirmPaymentRequest struct {
	Method      string `json:"method" validate:"required,max=32"`
	AmountCents int64  `json:"amount_cents" validate:"min=0"`
}

// ConfirmPayment handles POST /v1/bookings/:id/confirm, the admin-side
// manual confirmation.  Re-confirming a PAID booking returns the same
// invoice and ticket ids again.
func (h *BookingHandler) ConfirmPayment(c echo.Context) error {
	var req confirmPaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return h.confirm(c, c.Param("id"), req.Method, req.AmountCents)
}

type paymentCallbackRequest struct {
	BookingID   string `json:"booking_id" validate:"required"`
	Method      string `json:"method" validate:"required,max=32"`
	AmountCents int64  `json:"amount_cents" validate:"min=0"`
}

// PaymentCallback handles POST /v1/payments/callback, the confirmation
// delivered by the payment gateway.  The shared token in the
// X-Gateway-Token header authenticates the gateway; deliveries may
// repeat and are answered identically each time.
func (h *BookingHandler) PaymentCallback(c echo.Context) error {
	token := c.Request().Header.Get(gatewayTokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.gatewayToken)) != 1 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid gateway token"})
	}
	var req paymentCallbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return h.confirm(c, req.BookingID, req.Method, req.AmountCents)
}

func (h *BookingHandler) confirm(c echo.Context, id, method string, amountCents int64) error {
	inv, tickets, err := h.svc.ConfirmPayment(c.Request().Context(), id, method, amountCents)
	if err != nil {
		return writeError(c, err)
	}
	ticketIDs := make([]string, 0, len(tickets))
	for _, t := range tickets {
		ticketIDs = append(ticketIDs, t.ID)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"state":      model.StatePaid,
		"invoice_id": inv.ID,
		"ticket_ids": ticketIDs,
	})
}
