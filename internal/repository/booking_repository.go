package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gezgintur/tour-booking/internal/model"
)

// BookingRepo provides data access to the bookings table.  Rows are
// append-then-transition: a booking is inserted in the HELD state and
// afterwards touched only by TransitionFromHeld, whose state guard in
// the WHERE clause implements the compare-and-swap that decides the
// winner between payment confirmation, cancellation and expiry.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to the provided database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, schedule_id, party_size, state, hold_token,
	amount_due_cents, payment_method, cancel_reason,
	created_at, hold_expires_at, updated_at`

// Create persists a new HELD booking.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	const q = `INSERT INTO bookings
	           (id, schedule_id, party_size, state, hold_token, created_at, hold_expires_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		b.ID, b.ScheduleID, b.PartySize, string(b.State), b.HoldToken,
		b.CreatedAt.UTC(), b.HoldExpiresAt.UTC(), b.CreatedAt.UTC(),
	)
	if err != nil {
		return storeErr("create booking", err)
	}
	return nil
}

// Get returns a booking by id.
func (r *BookingRepo) Get(ctx context.Context, id string) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get booking", err)
	}
	return b, nil
}

// TransitionFromHeld is the booking-level compare-and-swap.  The
// UPDATE only matches while the persisted state is still HELD, so
// exactly one of the racing terminal transitions can ever succeed; the
// losers see ErrInvalidState and must not perform their seat-counter
// side effect.
func (r *BookingRepo) TransitionFromHeld(ctx context.Context, id string, to model.BookingState, upd TransitionUpdate) error {
	if !model.StateHeld.CanTransitionTo(to) {
		return fmt.Errorf("transition to %s: %w", to, ErrInvalidState)
	}
	const q = `UPDATE bookings
	           SET state = ?, payment_method = ?, amount_due_cents = ?, cancel_reason = ?, updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND state = ?`
	res, err := r.db.ExecContext(ctx, q,
		string(to), upd.PaymentMethod, upd.AmountDueCents, upd.CancelReason,
		id, string(model.StateHeld),
	)
	if err != nil {
		return storeErr("transition booking", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("transition booking", err)
	}
	if affected == 0 {
		// CAS failed: unknown booking or no longer HELD.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("booking %s no longer HELD: %w", id, ErrInvalidState)
	}
	return nil
}

// DueForExpiry lists HELD bookings whose hold deadline has passed.
func (r *BookingRepo) DueForExpiry(ctx context.Context, now time.Time) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings
	      WHERE state = ? AND hold_expires_at <= ?
	      ORDER BY hold_expires_at`
	rows, err := r.db.QueryContext(ctx, q, string(model.StateHeld), now.UTC())
	if err != nil {
		return nil, storeErr("list due bookings", err)
	}
	defer rows.Close()
	var due []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, storeErr("scan due booking", err)
		}
		due = append(due, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list due bookings", err)
	}
	return due, nil
}

// SeatTotals sums party sizes of HELD and PAID bookings on a schedule.
func (r *BookingRepo) SeatTotals(ctx context.Context, scheduleID string) (held, committed int, err error) {
	const q = `SELECT state, COALESCE(SUM(party_size), 0)
	           FROM bookings
	           WHERE schedule_id = ? AND state IN (?, ?)
	           GROUP BY state`
	rows, err := r.db.QueryContext(ctx, q, scheduleID, string(model.StateHeld), string(model.StatePaid))
	if err != nil {
		return 0, 0, storeErr("sum booking seats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var total int
		if err := rows.Scan(&state, &total); err != nil {
			return 0, 0, storeErr("scan seat totals", err)
		}
		switch model.BookingState(state) {
		case model.StateHeld:
			held = total
		case model.StatePaid:
			committed = total
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, storeErr("sum booking seats", err)
	}
	return held, committed, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	var state string
	err := row.Scan(
		&b.ID, &b.ScheduleID, &b.PartySize, &state, &b.HoldToken,
		&b.AmountDueCents, &b.PaymentMethod, &b.CancelReason,
		&b.CreatedAt, &b.HoldExpiresAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.State = model.BookingState(state)
	return &b, nil
}
