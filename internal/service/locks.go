package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gezgintur/tour-booking/internal/repository"
)

// lockTable hands out one-slot locks keyed by booking id.  Terminal
// transitions and payment confirmation serialize on the booking's lock
// so that the compare-and-swap in the store only ever fires once per
// booking in practice; the CAS remains the durable guard either way.
//
// Acquisition is bounded: a caller that cannot enter the critical
// section in time fails with a retryable error instead of deadlocking.
// Slots are reference-counted and dropped from the table once the last
// holder or waiter lets go, so the table only tracks bookings with an
// in-flight transition.
type lockTable struct {
	wait  time.Duration
	mu    sync.Mutex
	slots map[string]*lockSlot
}

// lockSlot pairs the one-slot channel with the number of goroutines
// currently holding or waiting on it.
type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newLockTable(wait time.Duration) *lockTable {
	if wait <= 0 {
		wait = 250 * time.Millisecond
	}
	return &lockTable{wait: wait, slots: make(map[string]*lockSlot)}
}

// acquire blocks until the key's lock is free, the wait elapses or ctx
// is cancelled.  On success it returns the release function.
func (t *lockTable) acquire(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	slot, ok := t.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		t.slots[key] = slot
	}
	slot.refs++
	t.mu.Unlock()

	timer := time.NewTimer(t.wait)
	defer timer.Stop()
	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			t.put(key, slot)
		}, nil
	case <-timer.C:
		t.put(key, slot)
		return nil, fmt.Errorf("booking lock wait exceeded %s: %w", t.wait, repository.ErrTransient)
	case <-ctx.Done():
		t.put(key, slot)
		return nil, ctx.Err()
	}
}

// put drops one reference and removes the slot once nothing holds or
// waits on it.  A slot can never disappear under an interested
// goroutine because that goroutine still carries a reference.
func (t *lockTable) put(key string, slot *lockSlot) {
	t.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(t.slots, key)
	}
	t.mu.Unlock()
}
