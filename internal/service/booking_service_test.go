package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gezgintur/tour-booking/internal/model"
	"github.com/gezgintur/tour-booking/internal/queue"
	"github.com/gezgintur/tour-booking/internal/repository"
)

// recordingPublisher captures events instead of talking to a broker.
type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.BookingEvent
}

func (p *recordingPublisher) PublishBookingEvent(ctx context.Context, ev queue.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

type testEngine struct {
	svc   *BookingService
	store *repository.MemoryStore
	pub   *recordingPublisher
}

func newTestEngine(t *testing.T, opts Options) *testEngine {
	t.Helper()
	store := repository.NewMemoryStore(time.Second)
	pub := &recordingPublisher{}
	svc := NewBookingService(
		store.Schedules(), store.Bookings(), store.Invoices(), store.Tickets(),
		pub, opts, zerolog.Nop(),
	)
	return &testEngine{svc: svc, store: store, pub: pub}
}

func (e *testEngine) schedule(t *testing.T, id string, seats int) {
	t.Helper()
	_, err := e.svc.RegisterSchedule(context.Background(), id, seats)
	require.NoError(t, err)
}

func (e *testEngine) counters(t *testing.T, id string) (held, committed int) {
	t.Helper()
	s, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return s.HeldSeats, s.CommittedSeats
}

func TestEndToEndBookingLifecycle(t *testing.T) {
	// The two-seat scenario: hold everything, get rejected, pay, and
	// watch capacity come back as committed seats.
	eng := newTestEngine(t, Options{})
	ctx := context.Background()
	eng.schedule(t, "trk-ephesus-1010", 2)

	b, err := eng.svc.CreateBooking(ctx, "trk-ephesus-1010", 2)
	require.NoError(t, err)
	assert.Equal(t, model.StateHeld, b.State)
	assert.NotEmpty(t, b.HoldToken)
	assert.True(t, b.HoldExpiresAt.After(b.CreatedAt))

	held, committed := eng.counters(t, "trk-ephesus-1010")
	assert.Equal(t, 2, held)
	assert.Equal(t, 0, committed)

	// Second booking bounces off the full schedule with no record made.
	_, err = eng.svc.CreateBooking(ctx, "trk-ephesus-1010", 1)
	assert.ErrorIs(t, err, repository.ErrCapacityExceeded)

	inv, tickets, err := eng.svc.ConfirmPayment(ctx, b.ID, "credit_card", 45000)
	require.NoError(t, err)
	assert.Equal(t, b.ID, inv.BookingID)
	assert.EqualValues(t, 45000, inv.AmountCents)
	require.Len(t, tickets, 2, "exactly one ticket per paid seat")
	for _, tk := range tickets {
		assert.Equal(t, model.TicketUnused, tk.Status)
		assert.Equal(t, inv.ID, tk.InvoiceID)
		assert.NotEmpty(t, tk.Serial)
	}

	got, err := eng.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePaid, got.State)
	assert.Equal(t, "credit_card", got.PaymentMethod)
	assert.EqualValues(t, 45000, got.AmountDueCents)

	held, committed = eng.counters(t, "trk-ephesus-1010")
	assert.Equal(t, 0, held)
	assert.Equal(t, 2, committed)

	// Committed seats stay gone: a third request still bounces.
	_, err = eng.svc.CreateBooking(ctx, "trk-ephesus-1010", 1)
	assert.ErrorIs(t, err, repository.ErrCapacityExceeded)

	assert.Equal(t, []string{queue.EventBookingCreated, queue.EventBookingPaid}, eng.pub.kinds())
}

func TestCancelledSeatsReopenCapacity(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ctx := context.Background()
	eng.schedule(t, "sch", 2)

	b, err := eng.svc.CreateBooking(ctx, "sch", 1)
	require.NoError(t, err)
	require.NoError(t, eng.svc.CancelBooking(ctx, b.ID, "found a better date"))

	held, committed := eng.counters(t, "sch")
	assert.Equal(t, 0, held)
	assert.Equal(t, 0, committed)

	// The freed seat is bookable again.
	_, err = eng.svc.CreateBooking(ctx, "sch", 2)
	require.NoError(t, err)
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ctx := context.Background()
	eng.schedule(t, "sch", 4)

	b, err := eng.svc.CreateBooking(ctx, "sch", 3)
	require.NoError(t, err)

	inv1, tk1, err := eng.svc.ConfirmPayment(ctx, b.ID, "bank_transfer", 90000)
	require.NoError(t, err)

	// The gateway redelivers the callback.
	inv2, tk2, err := eng.svc.ConfirmPayment(ctx, b.ID, "bank_transfer", 90000)
	require.NoError(t, err)

	assert.Equal(t, inv1.ID, inv2.ID, "same invoice both times")
	require.Len(t, tk2, len(tk1))
	ids1 := map[string]bool{}
	for _, tk := range tk1 {
		ids1[tk.ID] = true
	}
	for _, tk := range tk2 {
		assert.True(t, ids1[tk.ID], "redelivery must not mint new tickets")
	}

	held, committed := eng.counters(t, "sch")
	assert.Equal(t, 0, held)
	assert.Equal(t, 3, committed, "seats committed exactly once")
}

func TestCancelRejectsNonHeldBooking(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ctx := context.Background()
	eng.schedule(t, "sch", 5)

	b, err := eng.svc.CreateBooking(ctx, "sch", 2)
	require.NoError(t, err)
	_, _, err = eng.svc.ConfirmPayment(ctx, b.ID, "cash", 30000)
	require.NoError(t, err)

	// Cancelling a paid booking is rejected, not ignored, and the
	// counters stay put.
	err = eng.svc.CancelBooking(ctx, b.ID, "too late")
	assert.ErrorIs(t, err, repository.ErrInvalidState)

	held, committed := eng.counters(t, "sch")
	assert.Equal(t, 0, held)
	assert.Equal(t, 2, committed)
}

func TestDoubleCancelDoesNotDoubleRelease(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ctx := context.Background()
	eng.schedule(t, "sch", 5)

	b, err := eng.svc.CreateBooking(ctx, "sch", 2)
	require.NoError(t, err)
	require.NoError(t, eng.svc.CancelBooking(ctx, b.ID, "first"))

	err = eng.svc.CancelBooking(ctx, b.ID, "second")
	assert.ErrorIs(t, err, repository.ErrInvalidState)

	held, _ := eng.counters(t, "sch")
	assert.Equal(t, 0, held, "second cancel must not underflow the counter")
}

func TestCreateBookingValidation(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ctx := context.Background()
	eng.schedule(t, "sch", 5)

	_, err := eng.svc.CreateBooking(ctx, "sch", 0)
	assert.ErrorIs(t, err, repository.ErrInvalidState)
	_, err = eng.svc.CreateBooking(ctx, "unknown", 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConcurrentCreateBookingHonorsCapacity(t *testing.T) {
	// K concurrent single-seat bookings against N < K seats, end to
	// end through the service: exactly N become HELD bookings, the
	// rest bounce, and the counters account for every winner.
	const (
		totalSeats = 5
		callers    = 25
	)
	eng := newTestEngine(t, Options{})
	ctx := context.Background()
	eng.schedule(t, "sch", totalSeats)

	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.svc.CreateBooking(ctx, "sch", 1)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, rejected := 0, 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, repository.ErrCapacityExceeded)
		rejected++
	}
	assert.Equal(t, totalSeats, succeeded)
	assert.Equal(t, callers-totalSeats, rejected)

	held, committed := eng.counters(t, "sch")
	assert.Equal(t, totalSeats, held)
	assert.Equal(t, 0, committed)
	assert.Len(t, eng.pub.kinds(), totalSeats, "only successful bookings emit events")
}

func TestConfirmVersusExpireRace(t *testing.T) {
	// A booking right at its deadline receives a payment confirmation
	// and a sweep concurrently: exactly one of PAID/EXPIRED results and
	// the counters reflect only the winner.
	for i := 0; i < 20; i++ {
		eng := newTestEngine(t, Options{GracePeriod: -time.Second}) // born overdue
		ctx := context.Background()
		eng.schedule(t, "sch", 3)

		b, err := eng.svc.CreateBooking(ctx, "sch", 3)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var confirmErr, expireErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, confirmErr = eng.svc.ConfirmPayment(ctx, b.ID, "card", 10000)
		}()
		go func() {
			defer wg.Done()
			expireErr = eng.svc.ExpireBooking(ctx, b.ID)
		}()
		wg.Wait()

		got, err := eng.svc.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		held, committed := eng.counters(t, "sch")

		switch got.State {
		case model.StatePaid:
			require.NoError(t, confirmErr)
			assert.ErrorIs(t, expireErr, repository.ErrInvalidState)
			assert.Equal(t, 0, held)
			assert.Equal(t, 3, committed)
		case model.StateExpired:
			require.NoError(t, expireErr)
			assert.ErrorIs(t, confirmErr, repository.ErrInvalidState)
			assert.Equal(t, 0, held)
			assert.Equal(t, 0, committed)
		default:
			t.Fatalf("booking ended in %s, want PAID or EXPIRED", got.State)
		}
	}
}

func TestLatePaymentBeatingSweeperWins(t *testing.T) {
	// A confirmation arriving after the hold deadline but before the
	// sweeper processes the booking is honored.
	eng := newTestEngine(t, Options{GracePeriod: -time.Minute})
	ctx := context.Background()
	eng.schedule(t, "sch", 1)

	b, err := eng.svc.CreateBooking(ctx, "sch", 1)
	require.NoError(t, err)
	require.True(t, b.HoldExpired(time.Now().UTC()))

	_, _, err = eng.svc.ConfirmPayment(ctx, b.ID, "card", 5000)
	require.NoError(t, err, "expiry is enforced by the sweep, not the confirm path")

	// The sweeper now finds nothing to do.
	assert.ErrorIs(t, eng.svc.ExpireBooking(ctx, b.ID), repository.ErrInvalidState)
}

func TestReconcileCorrectsDriftedCounters(t *testing.T) {
	eng := newTestEngine(t, Options{})
	ctx := context.Background()
	eng.schedule(t, "sch", 10)

	_, err := eng.svc.CreateBooking(ctx, "sch", 2)
	require.NoError(t, err)
	b2, err := eng.svc.CreateBooking(ctx, "sch", 3)
	require.NoError(t, err)
	_, _, err = eng.svc.ConfirmPayment(ctx, b2.ID, "card", 60000)
	require.NoError(t, err)

	// Simulate a crash between reserve and booking insert: the counter
	// says more seats are held than any booking accounts for.
	require.NoError(t, eng.store.OverwriteCounters(ctx, "sch", 7, 3))

	corrected, err := eng.svc.ReconcileSchedules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, corrected)

	held, committed := eng.counters(t, "sch")
	assert.Equal(t, 2, held)
	assert.Equal(t, 3, committed)

	// A clean state reconciles to zero corrections.
	corrected, err = eng.svc.ReconcileSchedules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, corrected)
}
