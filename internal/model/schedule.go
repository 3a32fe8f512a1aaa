package model

import "time"

// Schedule represents one concrete departure of a tour with a finite
// seat inventory.  The three counters are the contended resource of the
// whole booking engine: TotalSeats is fixed when the catalog registers
// the departure, HeldSeats counts seats reserved by bookings currently
// in the HELD state, and CommittedSeats counts seats belonging to PAID
// bookings.  The invariant HeldSeats + CommittedSeats <= TotalSeats
// must hold at every point in time; it is enforced by the repository
// layer, which serializes all counter mutations per schedule.
//
// Schedules are created by catalog management and are never deleted
// while bookings reference them.
type Schedule struct {
	ID             string    // schedules.id (opaque, supplied by the catalog)
	TotalSeats     int       // schedules.total_seats, fixed at creation
	HeldSeats      int       // schedules.held_seats
	CommittedSeats int       // schedules.committed_seats
	CreatedAt      time.Time // schedules.created_at
}

// AvailableSeats returns the number of seats that can still be reserved.
func (s *Schedule) AvailableSeats() int {
	return s.TotalSeats - s.HeldSeats - s.CommittedSeats
}
