package model

import "time"

// Invoice is the financial record created exactly once per PAID
// booking.  It carries the settled amount and payment metadata and is
// immutable after creation.  The store enforces the one-per-booking
// rule with a unique key on the booking reference.
type Invoice struct {
	ID            string    // invoices.id
	BookingID     string    // invoices.booking_id (unique)
	AmountCents   int64     // invoices.amount_cents
	PaymentMethod string    // invoices.payment_method
	IssuedAt      time.Time // invoices.issued_at
}
