package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gezgintur/tour-booking/internal/model"
)

// ScheduleRepo provides data access to the schedules table.  All seat
// counter mutations are expressed as single guarded UPDATE statements so
// that the database's row lock makes each check-and-modify atomic: the
// WHERE clause carries the capacity or underflow guard and a zero
// rows-affected result means the guard failed.  This keeps the locking
// discipline in one narrow place instead of scattering it across ad-hoc
// queries.
type ScheduleRepo struct {
	db *sql.DB
}

// NewScheduleRepo returns a ScheduleRepo bound to the provided database.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

// Create registers a new departure.  The counters start at zero; the
// total is fixed for the lifetime of the schedule.
func (r *ScheduleRepo) Create(ctx context.Context, s *model.Schedule) error {
	const q = `INSERT INTO schedules (id, total_seats, held_seats, committed_seats)
	           VALUES (?, ?, 0, 0)`
	if _, err := r.db.ExecContext(ctx, q, s.ID, s.TotalSeats); err != nil {
		return storeErr("create schedule", err)
	}
	return nil
}

// Get returns the schedule with its current counters.
func (r *ScheduleRepo) Get(ctx context.Context, id string) (*model.Schedule, error) {
	const q = `SELECT id, total_seats, held_seats, committed_seats, created_at
	           FROM schedules WHERE id = ?`
	var s model.Schedule
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.TotalSeats, &s.HeldSeats, &s.CommittedSeats, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get schedule", err)
	}
	return &s, nil
}

// IDs lists all schedule ids.
func (r *ScheduleRepo) IDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM schedules`)
	if err != nil {
		return nil, storeErr("list schedules", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan schedule id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list schedules", err)
	}
	return ids, nil
}

// Reserve increments held_seats by n only while enough capacity
// remains.  The guard and the increment execute as one statement, so
// two racing reservations can never both succeed for the last seat.
func (r *ScheduleRepo) Reserve(ctx context.Context, id string, n int) error {
	const q = `UPDATE schedules
	           SET held_seats = held_seats + ?
	           WHERE id = ? AND total_seats - held_seats - committed_seats >= ?`
	res, err := r.db.ExecContext(ctx, q, n, id, n)
	if err != nil {
		return storeErr("reserve seats", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("reserve seats", err)
	}
	if affected == 0 {
		// Guard failed: distinguish an unknown schedule from a full one.
		if err := r.exists(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("schedule %s: %w", id, ErrCapacityExceeded)
	}
	return nil
}

// CommitSeats moves n seats from held to committed.
func (r *ScheduleRepo) CommitSeats(ctx context.Context, id string, n int) error {
	const q = `UPDATE schedules
	           SET held_seats = held_seats - ?, committed_seats = committed_seats + ?
	           WHERE id = ? AND held_seats >= ?`
	return r.guardedUpdate(ctx, "commit seats", q, id, n, n, id, n)
}

// UncommitSeats moves n seats back from committed to held.
func (r *ScheduleRepo) UncommitSeats(ctx context.Context, id string, n int) error {
	const q = `UPDATE schedules
	           SET committed_seats = committed_seats - ?, held_seats = held_seats + ?
	           WHERE id = ? AND committed_seats >= ?`
	return r.guardedUpdate(ctx, "uncommit seats", q, id, n, n, id, n)
}

// ReleaseSeats returns n held seats to available capacity.
func (r *ScheduleRepo) ReleaseSeats(ctx context.Context, id string, n int) error {
	const q = `UPDATE schedules
	           SET held_seats = held_seats - ?
	           WHERE id = ? AND held_seats >= ?`
	return r.guardedUpdate(ctx, "release seats", q, id, n, id, n)
}

// OverwriteCounters force-sets both counters during reconciliation.
func (r *ScheduleRepo) OverwriteCounters(ctx context.Context, id string, held, committed int) error {
	const q = `UPDATE schedules SET held_seats = ?, committed_seats = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, held, committed, id)
	if err != nil {
		return storeErr("overwrite counters", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("overwrite counters", err)
	}
	if affected == 0 {
		return r.exists(ctx, id)
	}
	return nil
}

// guardedUpdate runs a counter mutation whose WHERE clause carries an
// underflow guard.  Zero affected rows means either the schedule is
// unknown or the guard failed; the latter indicates a double release or
// commit and is reported as ErrInvalidState without touching counters.
func (r *ScheduleRepo) guardedUpdate(ctx context.Context, op, q, id string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return storeErr(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if affected == 0 {
		if err := r.exists(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%s on schedule %s: %w", op, id, ErrInvalidState)
	}
	return nil
}

func (r *ScheduleRepo) exists(ctx context.Context, id string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM schedules WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return storeErr("check schedule", err)
	}
	return nil
}

// storeErr wraps driver-level failures as ErrTransient so the service
// layer knows the operation is safe to retry.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrTransient)
}
