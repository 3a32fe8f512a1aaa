// Package queue defines the message payloads exchanged over the broker
// and the processes that produce and consume them: a best-effort
// publisher for booking lifecycle events and a consumer that feeds
// payment gateway confirmations into the booking engine.
package queue

// Queue names used on the default exchange.
const (
	// BookingEventsQueue receives every booking lifecycle event.
	BookingEventsQueue = "booking.events"
	// PaymentConfirmedQueue carries payment gateway confirmations into
	// the engine.  Deliveries may repeat; consumption is idempotent.
	PaymentConfirmedQueue = "payment.confirmed"
)

// Booking event kinds.
const (
	EventBookingCreated   = "booking.created"
	EventBookingPaid      = "booking.paid"
	EventBookingCancelled = "booking.cancelled"
	EventBookingExpired   = "booking.expired"
)

// BookingEvent is published on every booking state change.  It carries
// enough information for downstream consumers to notify, log or feed
// analytics without querying the primary database.
type BookingEvent struct {
	Kind        string `json:"kind"`
	BookingID   string `json:"booking_id"`
	ScheduleID  string `json:"schedule_id"`
	PartySize   int    `json:"party_size"`
	State       string `json:"state"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	OccurredAt  string `json:"occurred_at"`
}

// PaymentConfirmedMessage is the gateway callback contract as delivered
// over the broker: which booking was paid, how, and the settled amount.
type PaymentConfirmedMessage struct {
	BookingID   string `json:"booking_id"`
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}
