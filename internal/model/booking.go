package model

import "time"

// BookingState is the closed set of states a booking can be in.  A
// booking is born HELD (or fails to be created at all) and moves through
// exactly one of the three terminal transitions.  State comparisons go
// through this type and its methods rather than raw string equality so
// that illegal moves are rejected in one place.
type BookingState string

const (
	StateHeld      BookingState = "HELD"
	StatePaid      BookingState = "PAID"
	StateCancelled BookingState = "CANCELLED"
	StateExpired   BookingState = "EXPIRED"
)

// Terminal reports whether the state permits no further transitions.
func (s BookingState) Terminal() bool {
	switch s {
	case StatePaid, StateCancelled, StateExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal
// state-machine edge.  The only legal edges are HELD -> PAID,
// HELD -> CANCELLED and HELD -> EXPIRED; terminal states are final and
// a booking can never be resurrected back to HELD.
func (s BookingState) CanTransitionTo(next BookingState) bool {
	if s != StateHeld {
		return false
	}
	return next.Terminal()
}

// Valid reports whether s is one of the four known states.  Useful when
// scanning rows written by older revisions of the schema.
func (s BookingState) Valid() bool {
	return s == StateHeld || s.Terminal()
}

// Booking records one customer's attempt to purchase seats on a
// schedule.  A HELD booking owns PartySize seats out of the schedule's
// held counter until HoldExpiresAt; the payment confirmation transaction
// converts those seats to committed, while cancellation or the expiry
// sweeper releases them back to available capacity.  Bookings are kept
// forever as an audit trail and are never physically deleted.
//
// Fields:
//	ID             – opaque booking identifier, generated at creation.
//	ScheduleID     – departure the seats are reserved on.
//	PartySize      – adults + children, >= 1.
//	State          – current state, see BookingState.
//	HoldToken      – random token identifying the seat hold, returned to
//	                 the client for correlation.  Immutable.
//	AmountDueCents – settled amount, recorded on the HELD -> PAID move.
//	PaymentMethod  – recorded on the HELD -> PAID move.
//	CancelReason   – recorded on the HELD -> CANCELLED move.
//	CreatedAt      – creation timestamp (UTC).
//	HoldExpiresAt  – CreatedAt + grace period.  Immutable once set.
//	UpdatedAt      – timestamp of the last state change.
type Booking struct {
	ID             string       // bookings.id
	ScheduleID     string       // bookings.schedule_id
	PartySize      int          // bookings.party_size
	State          BookingState // bookings.state
	HoldToken      string       // bookings.hold_token
	AmountDueCents int64        // bookings.amount_due_cents
	PaymentMethod  string       // bookings.payment_method
	CancelReason   string       // bookings.cancel_reason
	CreatedAt      time.Time    // bookings.created_at
	HoldExpiresAt  time.Time    // bookings.hold_expires_at
	UpdatedAt      time.Time    // bookings.updated_at
}

// HoldExpired reports whether the booking's hold deadline has passed at
// the given instant.  It says nothing about the persisted state; the
// sweeper uses the state-guarded transition to decide the winner of a
// confirm-versus-expire race.
func (b *Booking) HoldExpired(now time.Time) bool {
	return !now.Before(b.HoldExpiresAt)
}
