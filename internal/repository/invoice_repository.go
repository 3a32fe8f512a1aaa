package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/gezgintur/tour-booking/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique key
// violation (ER_DUP_ENTRY).
const mysqlDuplicateEntry = 1062

// InvoiceRepo provides data access to the invoices table.  The unique
// key on booking_id is the durable enforcement of the one-invoice-per-
// booking rule; a duplicate insert is reported as ErrInvalidState so a
// retried payment confirmation falls back to loading the existing row.
type InvoiceRepo struct {
	db *sql.DB
}

// NewInvoiceRepo returns an InvoiceRepo bound to the provided database.
func NewInvoiceRepo(db *sql.DB) *InvoiceRepo { return &InvoiceRepo{db: db} }

// Create inserts a new invoice.
func (r *InvoiceRepo) Create(ctx context.Context, inv *model.Invoice) error {
	const q = `INSERT INTO invoices (id, booking_id, amount_cents, payment_method, issued_at)
	           VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		inv.ID, inv.BookingID, inv.AmountCents, inv.PaymentMethod, inv.IssuedAt.UTC(),
	)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return fmt.Errorf("invoice for booking %s already exists: %w", inv.BookingID, ErrInvalidState)
	}
	if err != nil {
		return storeErr("create invoice", err)
	}
	return nil
}

// GetByBooking returns the invoice for a booking.
func (r *InvoiceRepo) GetByBooking(ctx context.Context, bookingID string) (*model.Invoice, error) {
	const q = `SELECT id, booking_id, amount_cents, payment_method, issued_at
	           FROM invoices WHERE booking_id = ?`
	var inv model.Invoice
	err := r.db.QueryRowContext(ctx, q, bookingID).Scan(
		&inv.ID, &inv.BookingID, &inv.AmountCents, &inv.PaymentMethod, &inv.IssuedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice for booking %s: %w", bookingID, ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get invoice", err)
	}
	return &inv, nil
}
