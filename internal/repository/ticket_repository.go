package repository

import (
	"context"
	"database/sql"

	"github.com/gezgintur/tour-booking/internal/model"
)

// TicketRepo provides data access to the tickets table.  Batches are
// inserted with a single multi-row statement so ticket creation for a
// booking is all-or-nothing; a retried payment confirmation therefore
// only ever observes zero tickets or the complete set.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a TicketRepo bound to the provided database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// CreateBatch inserts all tickets in one statement.  Passing an empty
// slice has no effect and returns nil.
func (r *TicketRepo) CreateBatch(ctx context.Context, ts []model.Ticket) error {
	if len(ts) == 0 {
		return nil
	}
	q := `INSERT INTO tickets (id, booking_id, invoice_id, serial, status, created_at) VALUES `
	args := make([]interface{}, 0, len(ts)*6)
	for i, t := range ts {
		if i > 0 {
			q += ","
		}
		q += "(?, ?, ?, ?, ?, ?)"
		args = append(args, t.ID, t.BookingID, t.InvoiceID, t.Serial, string(t.Status), t.CreatedAt.UTC())
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return storeErr("create tickets", err)
	}
	return nil
}

// ListByBooking returns all tickets issued for a booking, oldest first.
func (r *TicketRepo) ListByBooking(ctx context.Context, bookingID string) ([]model.Ticket, error) {
	const q = `SELECT id, booking_id, invoice_id, serial, status, created_at
	           FROM tickets WHERE booking_id = ? ORDER BY serial`
	rows, err := r.db.QueryContext(ctx, q, bookingID)
	if err != nil {
		return nil, storeErr("list tickets", err)
	}
	defer rows.Close()
	var ts []model.Ticket
	for rows.Next() {
		var t model.Ticket
		var status string
		if err := rows.Scan(&t.ID, &t.BookingID, &t.InvoiceID, &t.Serial, &status, &t.CreatedAt); err != nil {
			return nil, storeErr("scan ticket", err)
		}
		t.Status = model.TicketStatus(status)
		ts = append(ts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list tickets", err)
	}
	return ts, nil
}
