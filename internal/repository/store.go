package repository

import (
	"context"
	"time"

	"github.com/gezgintur/tour-booking/internal/model"
)

// ScheduleStore is the seat allocator's persistence contract.  Every
// counter mutation on a single schedule must be a single atomic unit:
// two concurrent reservations for the same schedule must never both
// succeed when only one seat remains.  Different schedules must not
// contend with each other.  The MySQL implementation relies on guarded
// single-statement updates (implicit row locking); the in-memory
// implementation serializes through a per-schedule lock acquired with a
// timeout.
type ScheduleStore interface {
	// Create registers a new departure with a fixed total seat count.
	Create(ctx context.Context, s *model.Schedule) error

	// Get returns the schedule with its current counters.
	Get(ctx context.Context, id string) (*model.Schedule, error)

	// IDs lists all known schedule ids.  Used by the reconciliation pass.
	IDs(ctx context.Context) ([]string, error)

	// Reserve checks total - held - committed >= n and, if true,
	// atomically increments held_seats by n.  On insufficient capacity
	// it returns ErrCapacityExceeded with no side effect.
	Reserve(ctx context.Context, id string, n int) error

	// CommitSeats atomically moves n seats from held to committed.
	// Returns ErrInvalidState if fewer than n seats are held.
	CommitSeats(ctx context.Context, id string, n int) error

	// UncommitSeats reverses CommitSeats when a later step of the
	// payment transaction fails.  Returns ErrInvalidState if fewer than
	// n seats are committed.
	UncommitSeats(ctx context.Context, id string, n int) error

	// ReleaseSeats atomically decrements held_seats by n, never below
	// zero.  Returns ErrInvalidState instead of underflowing.
	ReleaseSeats(ctx context.Context, id string, n int) error

	// OverwriteCounters force-sets both counters.  Only the
	// reconciliation pass calls this, after recomputing the true values
	// from the set of non-terminal bookings.
	OverwriteCounters(ctx context.Context, id string, held, committed int) error
}

// TransitionUpdate carries the fields recorded alongside a terminal
// state change.  Payment fields are set on HELD -> PAID, the cancel
// reason on HELD -> CANCELLED; the expiry transition sets nothing.
type TransitionUpdate struct {
	PaymentMethod  string
	AmountDueCents int64
	CancelReason   string
}

// BookingStore persists booking records.  TransitionFromHeld is the
// compare-and-swap that resolves the race between the three terminal
// transitions: the first caller to flip the state field wins and every
// loser observes ErrInvalidState.
type BookingStore interface {
	// Create persists a new booking.  The booking must already be in
	// the HELD state with its hold deadline set.
	Create(ctx context.Context, b *model.Booking) error

	// Get returns a booking by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Booking, error)

	// TransitionFromHeld moves the booking to a terminal state if and
	// only if its current persisted state is still HELD.  It returns
	// ErrInvalidState when the precondition no longer holds and
	// ErrNotFound for an unknown id.
	TransitionFromHeld(ctx context.Context, id string, to model.BookingState, upd TransitionUpdate) error

	// DueForExpiry lists bookings still HELD whose hold deadline is at
	// or before now.
	DueForExpiry(ctx context.Context, now time.Time) ([]model.Booking, error)

	// SeatTotals sums party sizes of HELD and PAID bookings for a
	// schedule.  The reconciliation pass compares the sums against the
	// schedule's counters.
	SeatTotals(ctx context.Context, scheduleID string) (held, committed int, err error)
}

// InvoiceStore persists the one-per-booking financial records.
type InvoiceStore interface {
	// Create inserts a new invoice.  Implementations enforce uniqueness
	// per booking.
	Create(ctx context.Context, inv *model.Invoice) error

	// GetByBooking returns the invoice for a booking, or ErrNotFound.
	GetByBooking(ctx context.Context, bookingID string) (*model.Invoice, error)
}

// TicketStore persists the per-seat admission documents.  CreateBatch
// must be atomic: either every ticket of a booking is persisted or none
// is, so a retried payment confirmation never has to repair a partial
// batch.
type TicketStore interface {
	CreateBatch(ctx context.Context, ts []model.Ticket) error
	ListByBooking(ctx context.Context, bookingID string) ([]model.Ticket, error)
}
