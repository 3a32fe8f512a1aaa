// Package service implements the booking lifecycle engine: the state
// machine governing bookings, the payment confirmation transaction and
// the time-boxed hold/expiry mechanism.  The HTTP layer and the AMQP
// consumer are thin shells around this package.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gezgintur/tour-booking/internal/model"
	"github.com/gezgintur/tour-booking/internal/queue"
	"github.com/gezgintur/tour-booking/internal/repository"
)

// EventPublisher publishes booking lifecycle events to the message
// broker.  Publication is best-effort: a broker outage never fails the
// booking operation that triggered the event.
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, ev queue.BookingEvent) error
}

// Options tunes the engine.  Zero values fall back to the defaults
// noted on each field.
type Options struct {
	GracePeriod time.Duration // hold lifetime, default 10m
	LockWait    time.Duration // booking lock acquisition bound, default 250ms
	MaxRetries  int           // retries of transient store failures, default 3
	RetryDelay  time.Duration // pause between retries, default 50ms
}

func (o Options) withDefaults() Options {
	if o.GracePeriod == 0 {
		o.GracePeriod = 10 * time.Minute
	}
	if o.LockWait <= 0 {
		o.LockWait = 250 * time.Millisecond
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 50 * time.Millisecond
	}
	return o
}

// BookingService owns every mutation of bookings and seat counters.
// Schedule-level atomicity lives in the ScheduleStore; booking-level
// races between payment confirmation, cancellation and expiry are
// serialized through an in-process lock per booking and decided
// durably by the store's HELD compare-and-swap.
type BookingService struct {
	schedules repository.ScheduleStore
	bookings  repository.BookingStore
	invoices  repository.InvoiceStore
	tickets   repository.TicketStore
	publisher EventPublisher
	opts      Options
	locks     *lockTable
	log       zerolog.Logger
}

// NewBookingService wires the engine.  publisher may be nil when no
// broker is configured.
func NewBookingService(
	schedules repository.ScheduleStore,
	bookings repository.BookingStore,
	invoices repository.InvoiceStore,
	tickets repository.TicketStore,
	publisher EventPublisher,
	opts Options,
	log zerolog.Logger,
) *BookingService {
	if schedules == nil || bookings == nil || invoices == nil || tickets == nil {
		panic("nil store passed to NewBookingService")
	}
	opts = opts.withDefaults()
	return &BookingService{
		schedules: schedules,
		bookings:  bookings,
		invoices:  invoices,
		tickets:   tickets,
		publisher: publisher,
		opts:      opts,
		locks:     newLockTable(opts.LockWait),
		log:       log,
	}
}

// RegisterSchedule records a departure announced by the catalog
// service.  The catalog owns everything about the tour except the seat
// counters, which only this engine mutates afterwards.
func (s *BookingService) RegisterSchedule(ctx context.Context, id string, totalSeats int) (*model.Schedule, error) {
	if id == "" {
		return nil, fmt.Errorf("schedule id is required: %w", repository.ErrInvalidState)
	}
	if totalSeats < 0 {
		return nil, fmt.Errorf("total seats must be >= 0: %w", repository.ErrInvalidState)
	}
	sched := &model.Schedule{ID: id, TotalSeats: totalSeats, CreatedAt: time.Now().UTC()}
	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, err
	}
	s.log.Info().Str("schedule_id", id).Int("total_seats", totalSeats).Msg("schedule registered")
	return sched, nil
}

// ScheduleAvailability returns the current counters of a schedule.
func (s *BookingService) ScheduleAvailability(ctx context.Context, id string) (*model.Schedule, error) {
	return s.schedules.Get(ctx, id)
}

// CreateBooking reserves partySize seats on the schedule and persists a
// new HELD booking whose hold expires after the configured grace
// period.  On ErrCapacityExceeded no record is created and the
// schedule's counters are untouched.  If persisting the booking fails
// after the seats were reserved, the reservation is released again;
// should even that fail, the reconciliation pass corrects the counter.
func (s *BookingService) CreateBooking(ctx context.Context, scheduleID string, partySize int) (*model.Booking, error) {
	if partySize < 1 {
		return nil, fmt.Errorf("party size must be >= 1: %w", repository.ErrInvalidState)
	}
	if err := s.withRetry(ctx, func() error {
		return s.schedules.Reserve(ctx, scheduleID, partySize)
	}); err != nil {
		return nil, err
	}

	token, err := randomToken(32)
	if err != nil {
		// Seats are reserved but no booking can reference them: give them back.
		s.compensateRelease(ctx, scheduleID, partySize)
		return nil, fmt.Errorf("generate hold token: %w", err)
	}
	now := time.Now().UTC()
	b := &model.Booking{
		ID:            uuid.NewString(),
		ScheduleID:    scheduleID,
		PartySize:     partySize,
		State:         model.StateHeld,
		HoldToken:     token,
		CreatedAt:     now,
		HoldExpiresAt: now.Add(s.opts.GracePeriod),
		UpdatedAt:     now,
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		s.compensateRelease(ctx, scheduleID, partySize)
		return nil, err
	}

	s.log.Info().
		Str("booking_id", b.ID).
		Str("schedule_id", scheduleID).
		Int("party_size", partySize).
		Time("hold_expires_at", b.HoldExpiresAt).
		Msg("booking held")
	s.publish(ctx, queue.EventBookingCreated, b, 0)
	return b, nil
}

// GetBooking returns the booking's current state and hold deadline.
func (s *BookingService) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return s.bookings.Get(ctx, id)
}

// CancelBooking moves a HELD booking to CANCELLED, storing the
// caller-supplied reason, and releases its seats.  Cancelling a booking
// in any other state is rejected with ErrInvalidState, not silently
// ignored, and leaves the schedule's counters unchanged.
func (s *BookingService) CancelBooking(ctx context.Context, id, reason string) error {
	return s.terminate(ctx, id, model.StateCancelled, repository.TransitionUpdate{CancelReason: reason})
}

// ExpireBooking moves a HELD booking past its deadline to EXPIRED and
// releases its seats.  It has the same side effects as CancelBooking
// but is driven by the sweeper rather than a user action.  A booking
// that was confirmed in the meantime loses the compare-and-swap and is
// reported as ErrInvalidState, which the sweeper treats as harmless.
func (s *BookingService) ExpireBooking(ctx context.Context, id string) error {
	return s.terminate(ctx, id, model.StateExpired, repository.TransitionUpdate{})
}

// terminate performs a seat-releasing terminal transition.  The CAS
// goes first: only the winner of the transition race performs the
// release, so a lost race can never double-release seats.
func (s *BookingService) terminate(ctx context.Context, id string, to model.BookingState, upd repository.TransitionUpdate) error {
	release, err := s.locks.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		return err
	}
	if !b.State.CanTransitionTo(to) {
		return fmt.Errorf("booking %s is %s: %w", id, b.State, repository.ErrInvalidState)
	}
	if err := s.bookings.TransitionFromHeld(ctx, id, to, upd); err != nil {
		return err
	}
	if err := s.withRetry(ctx, func() error {
		return s.schedules.ReleaseSeats(ctx, b.ScheduleID, b.PartySize)
	}); err != nil {
		// The transition is durable but the counter was not decremented;
		// the reconciliation pass will repair the drift.
		s.log.Error().Err(err).
			Str("booking_id", id).
			Str("schedule_id", b.ScheduleID).
			Msg("seat release failed after transition; awaiting reconciliation")
	}

	kind := queue.EventBookingExpired
	if to == model.StateCancelled {
		kind = queue.EventBookingCancelled
	}
	b.State = to
	s.publish(ctx, kind, b, 0)
	return nil
}

// ConfirmPayment promotes a HELD booking to PAID, permanently
// converting its held seats to committed seats and producing exactly
// one invoice and one ticket per seat.  It is idempotent: confirming an
// already PAID booking returns the existing invoice and tickets without
// creating anything new, because payment callbacks may be delivered
// more than once.  A confirmation arriving after the hold deadline but
// before the sweeper processed the booking is accepted; the race is
// resolved in the payer's favor by whichever transition lands first.
func (s *BookingService) ConfirmPayment(ctx context.Context, id, method string, amountCents int64) (*model.Invoice, []model.Ticket, error) {
	release, err := s.locks.acquire(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	switch b.State {
	case model.StatePaid:
		// Retried delivery. Return (and if a crash left them missing,
		// finish creating) the settled artifacts.
		inv, ts, err := s.issueArtifacts(ctx, b, b.PaymentMethod, b.AmountDueCents)
		if err != nil {
			return nil, nil, err
		}
		s.log.Info().Str("booking_id", id).Msg("duplicate payment confirmation ignored")
		return inv, ts, nil
	case model.StateHeld:
		// proceed
	default:
		return nil, nil, fmt.Errorf("booking %s is %s: %w", id, b.State, repository.ErrInvalidState)
	}

	if err := s.withRetry(ctx, func() error {
		return s.schedules.CommitSeats(ctx, b.ScheduleID, b.PartySize)
	}); err != nil {
		return nil, nil, err
	}

	inv, ts, err := s.issueArtifacts(ctx, b, method, amountCents)
	if err != nil {
		s.compensateUncommit(ctx, b.ScheduleID, b.PartySize)
		return nil, nil, err
	}

	if err := s.bookings.TransitionFromHeld(ctx, id, model.StatePaid, repository.TransitionUpdate{
		PaymentMethod:  method,
		AmountDueCents: amountCents,
	}); err != nil {
		// Unreachable while every transition goes through this process's
		// booking lock, but an external writer could still steal the CAS.
		s.compensateUncommit(ctx, b.ScheduleID, b.PartySize)
		return nil, nil, err
	}

	s.log.Info().
		Str("booking_id", id).
		Str("schedule_id", b.ScheduleID).
		Str("method", method).
		Int64("amount_cents", amountCents).
		Str("invoice_id", inv.ID).
		Int("tickets", len(ts)).
		Msg("booking paid")
	b.State = model.StatePaid
	s.publish(ctx, queue.EventBookingPaid, b, amountCents)
	return inv, ts, nil
}

// issueArtifacts creates the invoice and ticket batch for a booking,
// reusing whatever already exists so that crash-interrupted or retried
// confirmations converge on exactly one invoice and PartySize tickets.
func (s *BookingService) issueArtifacts(ctx context.Context, b *model.Booking, method string, amountCents int64) (*model.Invoice, []model.Ticket, error) {
	inv, err := s.invoices.GetByBooking(ctx, b.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		inv = &model.Invoice{
			ID:            uuid.NewString(),
			BookingID:     b.ID,
			AmountCents:   amountCents,
			PaymentMethod: method,
			IssuedAt:      time.Now().UTC(),
		}
		if err := s.withRetry(ctx, func() error {
			return s.invoices.Create(ctx, inv)
		}); err != nil {
			return nil, nil, err
		}
	case err != nil:
		return nil, nil, err
	}

	ts, err := s.tickets.ListByBooking(ctx, b.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(ts) == 0 {
		now := time.Now().UTC()
		ts = make([]model.Ticket, 0, b.PartySize)
		for i := 0; i < b.PartySize; i++ {
			serial, err := ticketSerial()
			if err != nil {
				return nil, nil, fmt.Errorf("generate ticket serial: %w", err)
			}
			ts = append(ts, model.Ticket{
				ID:        uuid.NewString(),
				BookingID: b.ID,
				InvoiceID: inv.ID,
				Serial:    serial,
				Status:    model.TicketUnused,
				CreatedAt: now,
			})
		}
		if err := s.withRetry(ctx, func() error {
			return s.tickets.CreateBatch(ctx, ts)
		}); err != nil {
			return nil, nil, err
		}
	}
	return inv, ts, nil
}

// ReconcileSchedules recomputes each schedule's counters from the set
// of non-terminal bookings and overwrites any counter that drifted,
// for example after a crash between a reservation and the booking
// insert.  Corrections are logged, never surfaced to callers.  It
// returns the number of schedules corrected.
func (s *BookingService) ReconcileSchedules(ctx context.Context) (int, error) {
	ids, err := s.schedules.IDs(ctx)
	if err != nil {
		return 0, err
	}
	corrected := 0
	for _, id := range ids {
		held, committed, err := s.bookings.SeatTotals(ctx, id)
		if err != nil {
			s.log.Error().Err(err).Str("schedule_id", id).Msg("reconcile: seat totals failed")
			continue
		}
		sched, err := s.schedules.Get(ctx, id)
		if err != nil {
			s.log.Error().Err(err).Str("schedule_id", id).Msg("reconcile: schedule load failed")
			continue
		}
		if sched.HeldSeats == held && sched.CommittedSeats == committed {
			continue
		}
		s.log.Warn().
			Str("schedule_id", id).
			Int("held_counter", sched.HeldSeats).Int("held_actual", held).
			Int("committed_counter", sched.CommittedSeats).Int("committed_actual", committed).
			Msg("inconsistent counters, correcting")
		if err := s.schedules.OverwriteCounters(ctx, id, held, committed); err != nil {
			s.log.Error().Err(err).Str("schedule_id", id).Msg("reconcile: overwrite failed")
			continue
		}
		corrected++
	}
	return corrected, nil
}

// DueForExpiry exposes the sweeper's selection query.
func (s *BookingService) DueForExpiry(ctx context.Context, now time.Time) ([]model.Booking, error) {
	return s.bookings.DueForExpiry(ctx, now)
}

// withRetry reruns op a bounded number of times while it keeps failing
// transiently.  Any other error, success, or context cancellation ends
// the loop immediately.
func (s *BookingService) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, repository.ErrTransient) || attempt >= s.opts.MaxRetries {
			return err
		}
		select {
		case <-time.After(s.opts.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *BookingService) compensateRelease(ctx context.Context, scheduleID string, n int) {
	if err := s.withRetry(ctx, func() error {
		return s.schedules.ReleaseSeats(ctx, scheduleID, n)
	}); err != nil {
		s.log.Error().Err(err).
			Str("schedule_id", scheduleID).Int("seats", n).
			Msg("orphaned reservation; awaiting reconciliation")
	}
}

func (s *BookingService) compensateUncommit(ctx context.Context, scheduleID string, n int) {
	if err := s.withRetry(ctx, func() error {
		return s.schedules.UncommitSeats(ctx, scheduleID, n)
	}); err != nil {
		s.log.Error().Err(err).
			Str("schedule_id", scheduleID).Int("seats", n).
			Msg("seat commit rollback failed; awaiting reconciliation")
	}
}

func (s *BookingService) publish(ctx context.Context, kind string, b *model.Booking, amountCents int64) {
	if s.publisher == nil {
		return
	}
	ev := queue.BookingEvent{
		Kind:        kind,
		BookingID:   b.ID,
		ScheduleID:  b.ScheduleID,
		PartySize:   b.PartySize,
		State:       string(b.State),
		AmountCents: amountCents,
		OccurredAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.publisher.PublishBookingEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("kind", kind).Str("booking_id", b.ID).Msg("event publish failed")
	}
}

// randomToken returns n bytes of cryptographically secure randomness as
// a hex string of length n*2.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ticketSerial builds a printable ticket serial, e.g. TKT-3F2A9C04D1B8.
func ticketSerial() (string, error) {
	raw, err := randomToken(6)
	if err != nil {
		return "", err
	}
	return "TKT-" + strings.ToUpper(raw), nil
}
