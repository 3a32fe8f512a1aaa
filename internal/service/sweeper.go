package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/gezgintur/tour-booking/internal/repository"
)

// Sweeper is the background worker that forces overdue holds through
// the EXPIRED transition.  It runs on a fixed interval; each pass
// selects the HELD bookings whose deadline has passed and attempts the
// transition one by one.  A booking that was confirmed between
// selection and transition simply loses the compare-and-swap and is
// counted as skipped - one bad record never aborts the sweep of the
// rest.  Every Nth pass additionally runs the counter reconciliation.
type Sweeper struct {
	svc            *BookingService
	interval       time.Duration
	reconcileEvery int
	log            zerolog.Logger
}

// NewSweeper builds a sweeper over the booking service.  interval
// defaults to one minute; reconcileEvery defaults to every 10th sweep,
// and 0 disables reconciliation entirely.
func NewSweeper(svc *BookingService, interval time.Duration, reconcileEvery int, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		svc:            svc,
		interval:       interval,
		reconcileEvery: reconcileEvery,
		log:            log,
	}
}

// Run executes sweep passes until ctx is cancelled.  It always returns
// nil on shutdown so an errgroup supervising it does not treat normal
// termination as a failure.
func (w *Sweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("sweeper started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	passes := 0
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("sweeper stopped")
			return nil
		case <-ticker.C:
			w.Sweep(ctx)
			passes++
			if w.reconcileEvery > 0 && passes%w.reconcileEvery == 0 {
				w.Reconcile(ctx)
			}
		}
	}
}

// Sweep performs one scan-and-expire pass and logs its outcome.  It
// returns the number of bookings expired, skipped (lost race, already
// terminal) and failed (store errors).
func (w *Sweeper) Sweep(ctx context.Context) (expired, skipped, failed int) {
	now := time.Now().UTC()
	due, err := w.svc.DueForExpiry(ctx, now)
	if err != nil {
		w.log.Error().Err(err).Msg("sweep: selection failed")
		return 0, 0, 0
	}
	for _, b := range due {
		switch err := w.svc.ExpireBooking(ctx, b.ID); {
		case err == nil:
			expired++
		case errors.Is(err, repository.ErrInvalidState):
			// Confirmed or cancelled after selection; benign, but it must
			// still show up in the sweep log.
			skipped++
			w.log.Debug().Str("booking_id", b.ID).Msg("sweep: booking no longer held")
		default:
			failed++
			w.log.Error().Err(err).Str("booking_id", b.ID).Msg("sweep: expire failed")
		}
	}
	if len(due) > 0 || failed > 0 {
		w.log.Info().
			Int("due", len(due)).
			Int("expired", expired).
			Int("skipped", skipped).
			Int("failed", failed).
			Msg("sweep finished")
	}
	return expired, skipped, failed
}

// Reconcile runs the counter reconciliation pass.
func (w *Sweeper) Reconcile(ctx context.Context) {
	corrected, err := w.svc.ReconcileSchedules(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("reconcile failed")
		return
	}
	if corrected > 0 {
		w.log.Warn().Int("corrected", corrected).Msg("reconcile corrected drifted counters")
	}
}
