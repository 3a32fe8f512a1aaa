package model

import "time"

// TicketStatus tracks what happened to a ticket after it was issued.
// Status changes are driven by downstream processes (check-in,
// cancellation handling); the booking engine only ever creates tickets
// in the UNUSED state as part of the payment confirmation transaction.
type TicketStatus string

const (
	TicketUnused TicketStatus = "UNUSED"
	TicketUsed   TicketStatus = "USED"
	TicketVoided TicketStatus = "VOIDED"
)

// Ticket is one admission document per paid seat.  A PAID booking owns
// exactly PartySize tickets, all referencing the booking's invoice.
type Ticket struct {
	ID        string       // tickets.id
	BookingID string       // tickets.booking_id
	InvoiceID string       // tickets.invoice_id
	Serial    string       // tickets.serial (unique, printed on the document)
	Status    TicketStatus // tickets.status
	CreatedAt time.Time    // tickets.created_at
}
