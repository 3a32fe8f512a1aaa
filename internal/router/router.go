// Package router wires HTTP routes to handlers and middleware.
package router

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/gezgintur/tour-booking/internal/handler"
	"github.com/gezgintur/tour-booking/internal/middleware"
)

// payloadValidator adapts go-playground/validator to echo's Validator
// interface so handlers can call c.Validate on bound request structs.
type payloadValidator struct {
	v *validator.Validate
}

func (p *payloadValidator) Validate(i interface{}) error {
	if err := p.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Register wires every route of the booking engine.
//
// Public surface: health, booking status and schedule availability.
// The payment callback authenticates with a shared gateway token
// inside the handler.  Customer operations (create, cancel) require a
// valid token from the auth layer; payment confirmation and schedule
// registration are admin-only.
func Register(e *echo.Echo, bh *handler.BookingHandler, sh *handler.ScheduleHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	e.Validator = &payloadValidator{v: validator.New()}

	e.GET("/healthz", handler.Health)
	e.GET("/v1/bookings/:id", bh.GetBooking)
	e.GET("/v1/schedules/:id/availability", sh.Availability)
	e.POST("/v1/payments/callback", bh.PaymentCallback)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))

	customer := middleware.RequireRole("CUSTOMER", "ADMIN")
	auth.POST("/bookings", bh.CreateBooking, customer, limiter)
	auth.DELETE("/bookings/:id", bh.CancelBooking, customer)

	admin := middleware.RequireRole("ADMIN")
	auth.POST("/bookings/:id/confirm", bh.ConfirmPayment, admin)
	auth.POST("/schedules", sh.Register, admin)
}
