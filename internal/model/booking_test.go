package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	terminal := []BookingState{StatePaid, StateCancelled, StateExpired}

	for _, to := range terminal {
		assert.True(t, StateHeld.CanTransitionTo(to), "HELD -> %s must be legal", to)
	}
	// Terminal states are final: nothing moves out of them, including
	// back to HELD.
	for _, from := range terminal {
		assert.True(t, from.Terminal())
		for _, to := range append(terminal, StateHeld) {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s must be illegal", from, to)
		}
	}
	assert.False(t, StateHeld.Terminal())
	assert.False(t, StateHeld.CanTransitionTo(StateHeld))
}

func TestStateValid(t *testing.T) {
	for _, s := range []BookingState{StateHeld, StatePaid, StateCancelled, StateExpired} {
		assert.True(t, s.Valid())
	}
	assert.False(t, BookingState("PENDING").Valid())
	assert.False(t, BookingState("").Valid())
}

func TestHoldExpired(t *testing.T) {
	deadline := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	b := Booking{HoldExpiresAt: deadline}

	assert.False(t, b.HoldExpired(deadline.Add(-time.Second)))
	assert.True(t, b.HoldExpired(deadline), "deadline itself counts as expired")
	assert.True(t, b.HoldExpired(deadline.Add(time.Second)))
}

func TestScheduleAvailableSeats(t *testing.T) {
	s := Schedule{TotalSeats: 10, HeldSeats: 3, CommittedSeats: 4}
	assert.Equal(t, 3, s.AvailableSeats())
}
