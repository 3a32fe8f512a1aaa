package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the persisted layout of the booking engine: seat
// counters per schedule, the booking audit trail and the dependent
// invoice and ticket records.  Statements are idempotent so startup
// can always run them.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS schedules (
		id              VARCHAR(64)  NOT NULL PRIMARY KEY,
		total_seats     INT          NOT NULL,
		held_seats      INT          NOT NULL DEFAULT 0,
		committed_seats INT          NOT NULL DEFAULT 0,
		created_at      DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT chk_schedule_counters CHECK (
			held_seats >= 0 AND committed_seats >= 0
			AND held_seats + committed_seats <= total_seats
		)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id               VARCHAR(36)  NOT NULL PRIMARY KEY,
		schedule_id      VARCHAR(64)  NOT NULL,
		party_size       INT          NOT NULL,
		state            VARCHAR(16)  NOT NULL,
		hold_token       CHAR(64)     NOT NULL,
		amount_due_cents BIGINT       NOT NULL DEFAULT 0,
		payment_method   VARCHAR(32)  NOT NULL DEFAULT '',
		cancel_reason    VARCHAR(255) NOT NULL DEFAULT '',
		created_at       DATETIME     NOT NULL,
		hold_expires_at  DATETIME     NOT NULL,
		updated_at       DATETIME     NOT NULL,
		KEY idx_bookings_state_expiry (state, hold_expires_at),
		KEY idx_bookings_schedule (schedule_id),
		CONSTRAINT fk_bookings_schedule FOREIGN KEY (schedule_id) REFERENCES schedules (id)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS invoices (
		id             VARCHAR(36) NOT NULL PRIMARY KEY,
		booking_id     VARCHAR(36) NOT NULL,
		amount_cents   BIGINT      NOT NULL,
		payment_method VARCHAR(32) NOT NULL,
		issued_at      DATETIME    NOT NULL,
		UNIQUE KEY uq_invoices_booking (booking_id),
		CONSTRAINT fk_invoices_booking FOREIGN KEY (booking_id) REFERENCES bookings (id)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS tickets (
		id         VARCHAR(36) NOT NULL PRIMARY KEY,
		booking_id VARCHAR(36) NOT NULL,
		invoice_id VARCHAR(36) NOT NULL,
		serial     VARCHAR(64) NOT NULL,
		status     VARCHAR(16) NOT NULL,
		created_at DATETIME    NOT NULL,
		UNIQUE KEY uq_tickets_serial (serial),
		KEY idx_tickets_booking (booking_id),
		CONSTRAINT fk_tickets_booking FOREIGN KEY (booking_id) REFERENCES bookings (id),
		CONSTRAINT fk_tickets_invoice FOREIGN KEY (invoice_id) REFERENCES invoices (id)
	) ENGINE=InnoDB`,
}

// EnsureSchema creates the engine's tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
