package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gezgintur/tour-booking/internal/repository"
	"github.com/gezgintur/tour-booking/internal/service"
)

const testGatewayToken = "test-gateway-token"

type testValidator struct{ v *validator.Validate }

func (t *testValidator) Validate(i interface{}) error {
	if err := t.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func newTestHandlers(t *testing.T) (*echo.Echo, *BookingHandler, *ScheduleHandler, *service.BookingService) {
	t.Helper()
	store := repository.NewMemoryStore(time.Second)
	svc := service.NewBookingService(
		store.Schedules(), store.Bookings(), store.Invoices(), store.Tickets(),
		nil, service.Options{}, zerolog.Nop(),
	)
	e := echo.New()
	e.Validator = &testValidator{v: validator.New()}
	return e, NewBookingHandler(svc, testGatewayToken), NewScheduleHandler(svc), svc
}

func doJSON(e *echo.Echo, method, path, body string, headers map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateBookingEndpoint(t *testing.T) {
	e, bh, sh, _ := newTestHandlers(t)

	// Register a departure first.
	c, rec := doJSON(e, http.MethodPost, "/v1/schedules", `{"schedule_id":"trk-1","total_seats":2}`, nil)
	require.NoError(t, sh.Register(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	c, rec = doJSON(e, http.MethodPost, "/v1/bookings", `{"schedule_id":"trk-1","party_size":2}`, nil)
	require.NoError(t, bh.CreateBooking(c))
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "HELD", body["state"])
	assert.NotEmpty(t, body["booking_id"])
	assert.NotEmpty(t, body["hold_token"])
	assert.NotEmpty(t, body["hold_expires_at"])

	// Schedule is now full.
	c, rec = doJSON(e, http.MethodPost, "/v1/bookings", `{"schedule_id":"trk-1","party_size":1}`, nil)
	require.NoError(t, bh.CreateBooking(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no seats available", decode(t, rec)["error"])
}

func TestCreateBookingValidationErrors(t *testing.T) {
	e, bh, _, _ := newTestHandlers(t)

	c, rec := doJSON(e, http.MethodPost, "/v1/bookings", `{"party_size":1}`, nil)
	require.NoError(t, bh.CreateBooking(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = doJSON(e, http.MethodPost, "/v1/bookings", `{"schedule_id":"trk-1","party_size":0}`, nil)
	require.NoError(t, bh.CreateBooking(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = doJSON(e, http.MethodPost, "/v1/bookings", `{not json`, nil)
	require.NoError(t, bh.CreateBooking(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBookingEndpoint(t *testing.T) {
	e, bh, _, svc := newTestHandlers(t)
	_, err := svc.RegisterSchedule(context.Background(), "trk-1", 5)
	require.NoError(t, err)
	b, err := svc.CreateBooking(context.Background(), "trk-1", 2)
	require.NoError(t, err)

	c, rec := doJSON(e, http.MethodGet, "/", "", nil)
	c.SetPath("/v1/bookings/:id")
	c.SetParamNames("id")
	c.SetParamValues(b.ID)
	require.NoError(t, bh.GetBooking(c))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "HELD", body["state"])
	assert.Equal(t, "trk-1", body["schedule_id"])
	assert.EqualValues(t, 2, body["party_size"])

	c, rec = doJSON(e, http.MethodGet, "/", "", nil)
	c.SetPath("/v1/bookings/:id")
	c.SetParamNames("id")
	c.SetParamValues("unknown")
	require.NoError(t, bh.GetBooking(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelBookingEndpoint(t *testing.T) {
	e, bh, _, svc := newTestHandlers(t)
	_, err := svc.RegisterSchedule(context.Background(), "trk-1", 5)
	require.NoError(t, err)
	b, err := svc.CreateBooking(context.Background(), "trk-1", 2)
	require.NoError(t, err)

	c, rec := doJSON(e, http.MethodDelete, "/", `{"reason":"change of plans"}`, nil)
	c.SetPath("/v1/bookings/:id")
	c.SetParamNames("id")
	c.SetParamValues(b.ID)
	require.NoError(t, bh.CancelBooking(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode(t, rec)["state"])

	// Cancelling again answers 409.
	c, rec = doJSON(e, http.MethodDelete, "/", `{"reason":"again"}`, nil)
	c.SetPath("/v1/bookings/:id")
	c.SetParamNames("id")
	c.SetParamValues(b.ID)
	require.NoError(t, bh.CancelBooking(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConfirmPaymentEndpointIdempotent(t *testing.T) {
	e, bh, _, svc := newTestHandlers(t)
	_, err := svc.RegisterSchedule(context.Background(), "trk-1", 5)
	require.NoError(t, err)
	b, err := svc.CreateBooking(context.Background(), "trk-1", 2)
	require.NoError(t, err)

	confirm := func() map[string]interface{} {
		c, rec := doJSON(e, http.MethodPost, "/", `{"method":"credit_card","amount_cents":45000}`, nil)
		c.SetPath("/v1/bookings/:id/confirm")
		c.SetParamNames("id")
		c.SetParamValues(b.ID)
		require.NoError(t, bh.ConfirmPayment(c))
		require.Equal(t, http.StatusOK, rec.Code)
		return decode(t, rec)
	}

	first := confirm()
	second := confirm()
	assert.Equal(t, first["invoice_id"], second["invoice_id"])
	assert.Equal(t, first["ticket_ids"], second["ticket_ids"])
	assert.Len(t, first["ticket_ids"], 2)
}

func TestPaymentCallbackAuth(t *testing.T) {
	e, bh, _, svc := newTestHandlers(t)
	_, err := svc.RegisterSchedule(context.Background(), "trk-1", 5)
	require.NoError(t, err)
	b, err := svc.CreateBooking(context.Background(), "trk-1", 1)
	require.NoError(t, err)

	payload := `{"booking_id":"` + b.ID + `","method":"card","amount_cents":15000}`

	c, rec := doJSON(e, http.MethodPost, "/v1/payments/callback", payload, map[string]string{gatewayTokenHeader: "wrong"})
	require.NoError(t, bh.PaymentCallback(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = doJSON(e, http.MethodPost, "/v1/payments/callback", payload, map[string]string{gatewayTokenHeader: testGatewayToken})
	require.NoError(t, bh.PaymentCallback(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PAID", decode(t, rec)["state"])
}

func TestAvailabilityEndpoint(t *testing.T) {
	e, _, sh, svc := newTestHandlers(t)
	_, err := svc.RegisterSchedule(context.Background(), "trk-1", 4)
	require.NoError(t, err)
	_, err = svc.CreateBooking(context.Background(), "trk-1", 3)
	require.NoError(t, err)

	c, rec := doJSON(e, http.MethodGet, "/", "", nil)
	c.SetPath("/v1/schedules/:id/availability")
	c.SetParamNames("id")
	c.SetParamValues("trk-1")
	require.NoError(t, sh.Availability(c))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 4, body["total_seats"])
	assert.EqualValues(t, 3, body["held_seats"])
	assert.EqualValues(t, 0, body["committed_seats"])
	assert.EqualValues(t, 1, body["available_seats"])
}
