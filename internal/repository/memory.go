package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gezgintur/tour-booking/internal/model"
)

// MemoryStore is an in-process implementation of all four store
// contracts.  Counter mutations for a schedule are serialized through a
// per-schedule lock so that reserve/commit/release form a linearizable
// sequence per schedule while different schedules never contend.  The
// lock is a one-slot channel acquired with a timeout: a caller that
// cannot enter the critical section in time fails with ErrTransient
// instead of blocking indefinitely.
//
// The engine assumes a single consistency domain, so this store is a
// full drop-in for the MySQL repositories when the service runs
// standalone (STORE_DRIVER=memory) and it backs the test suite.
type MemoryStore struct {
	lockWait time.Duration

	mu        sync.RWMutex
	schedules map[string]*scheduleEntry
	bookings  map[string]*model.Booking
	invoices  map[string]*model.Invoice // keyed by booking id
	tickets   map[string][]model.Ticket // keyed by booking id
}

// scheduleEntry pairs a schedule's counters with its one-slot lock.
type scheduleEntry struct {
	lock  chan struct{}
	sched model.Schedule
}

// NewMemoryStore returns an empty store.  lockWait bounds how long a
// counter mutation may wait for its schedule's critical section.
func NewMemoryStore(lockWait time.Duration) *MemoryStore {
	if lockWait <= 0 {
		lockWait = 250 * time.Millisecond
	}
	return &MemoryStore{
		lockWait:  lockWait,
		schedules: make(map[string]*scheduleEntry),
		bookings:  make(map[string]*model.Booking),
		invoices:  make(map[string]*model.Invoice),
		tickets:   make(map[string][]model.Ticket),
	}
}

// --- ScheduleStore ---

// Create registers a new departure with zeroed counters.
func (m *MemoryStore) Create(ctx context.Context, s *model.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[s.ID]; ok {
		return fmt.Errorf("schedule %s already exists: %w", s.ID, ErrInvalidState)
	}
	cp := *s
	cp.HeldSeats = 0
	cp.CommittedSeats = 0
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.schedules[s.ID] = &scheduleEntry{
		lock:  make(chan struct{}, 1),
		sched: cp,
	}
	return nil
}

// Get returns a snapshot of the schedule.
func (m *MemoryStore) Get(ctx context.Context, id string) (*model.Schedule, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	release, err := m.acquire(ctx, e)
	if err != nil {
		return nil, err
	}
	defer release()
	cp := e.sched
	return &cp, nil
}

// IDs lists all schedule ids in a stable order.
func (m *MemoryStore) IDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.schedules))
	for id := range m.schedules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Reserve checks remaining capacity and increments the held counter as
// one critical section.
func (m *MemoryStore) Reserve(ctx context.Context, id string, n int) error {
	return m.mutate(ctx, id, func(s *model.Schedule) error {
		if s.AvailableSeats() < n {
			return fmt.Errorf("schedule %s: %w", id, ErrCapacityExceeded)
		}
		s.HeldSeats += n
		return nil
	})
}

// CommitSeats moves n seats from held to committed.
func (m *MemoryStore) CommitSeats(ctx context.Context, id string, n int) error {
	return m.mutate(ctx, id, func(s *model.Schedule) error {
		if s.HeldSeats < n {
			return fmt.Errorf("commit seats on schedule %s: %w", id, ErrInvalidState)
		}
		s.HeldSeats -= n
		s.CommittedSeats += n
		return nil
	})
}

// UncommitSeats reverses CommitSeats.
func (m *MemoryStore) UncommitSeats(ctx context.Context, id string, n int) error {
	return m.mutate(ctx, id, func(s *model.Schedule) error {
		if s.CommittedSeats < n {
			return fmt.Errorf("uncommit seats on schedule %s: %w", id, ErrInvalidState)
		}
		s.CommittedSeats -= n
		s.HeldSeats += n
		return nil
	})
}

// ReleaseSeats returns n held seats to available capacity, refusing to
// underflow.
func (m *MemoryStore) ReleaseSeats(ctx context.Context, id string, n int) error {
	return m.mutate(ctx, id, func(s *model.Schedule) error {
		if s.HeldSeats < n {
			return fmt.Errorf("release seats on schedule %s: %w", id, ErrInvalidState)
		}
		s.HeldSeats -= n
		return nil
	})
}

// OverwriteCounters force-sets both counters during reconciliation.
func (m *MemoryStore) OverwriteCounters(ctx context.Context, id string, held, committed int) error {
	return m.mutate(ctx, id, func(s *model.Schedule) error {
		s.HeldSeats = held
		s.CommittedSeats = committed
		return nil
	})
}

func (m *MemoryStore) entry(id string) (*scheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// acquire enters the schedule's critical section, giving up after the
// configured wait and reporting the timeout as retryable.
func (m *MemoryStore) acquire(ctx context.Context, e *scheduleEntry) (func(), error) {
	timer := time.NewTimer(m.lockWait)
	defer timer.Stop()
	select {
	case e.lock <- struct{}{}:
		return func() { <-e.lock }, nil
	case <-timer.C:
		return nil, fmt.Errorf("schedule lock wait exceeded %s: %w", m.lockWait, ErrTransient)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *MemoryStore) mutate(ctx context.Context, id string, fn func(*model.Schedule) error) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	release, err := m.acquire(ctx, e)
	if err != nil {
		return err
	}
	defer release()
	return fn(&e.sched)
}

// --- BookingStore ---

// CreateBooking persists a new HELD booking.
func (m *MemoryStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s already exists: %w", b.ID, ErrInvalidState)
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

// GetBooking returns a snapshot of a booking.
func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

// TransitionFromHeld is the booking-level compare-and-swap: the state
// check and the write happen under one lock, so only the first of the
// racing terminal transitions succeeds.
func (m *MemoryStore) TransitionFromHeld(ctx context.Context, id string, to model.BookingState, upd TransitionUpdate) error {
	if !model.StateHeld.CanTransitionTo(to) {
		return fmt.Errorf("transition to %s: %w", to, ErrInvalidState)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	if b.State != model.StateHeld {
		return fmt.Errorf("booking %s is %s: %w", id, b.State, ErrInvalidState)
	}
	b.State = to
	b.PaymentMethod = upd.PaymentMethod
	b.AmountDueCents = upd.AmountDueCents
	b.CancelReason = upd.CancelReason
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// DueForExpiry lists HELD bookings whose hold deadline has passed.
func (m *MemoryStore) DueForExpiry(ctx context.Context, now time.Time) ([]model.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []model.Booking
	for _, b := range m.bookings {
		if b.State == model.StateHeld && b.HoldExpired(now) {
			due = append(due, *b)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].HoldExpiresAt.Before(due[j].HoldExpiresAt) })
	return due, nil
}

// SeatTotals sums party sizes of HELD and PAID bookings on a schedule.
func (m *MemoryStore) SeatTotals(ctx context.Context, scheduleID string) (held, committed int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.ScheduleID != scheduleID {
			continue
		}
		switch b.State {
		case model.StateHeld:
			held += b.PartySize
		case model.StatePaid:
			committed += b.PartySize
		}
	}
	return held, committed, nil
}

// --- InvoiceStore ---

// CreateInvoice inserts a new invoice, enforcing one per booking.
func (m *MemoryStore) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.BookingID]; ok {
		return fmt.Errorf("invoice for booking %s already exists: %w", inv.BookingID, ErrInvalidState)
	}
	cp := *inv
	m.invoices[inv.BookingID] = &cp
	return nil
}

// GetInvoiceByBooking returns the invoice for a booking.
func (m *MemoryStore) GetInvoiceByBooking(ctx context.Context, bookingID string) (*model.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[bookingID]
	if !ok {
		return nil, fmt.Errorf("invoice for booking %s: %w", bookingID, ErrNotFound)
	}
	cp := *inv
	return &cp, nil
}

// --- TicketStore ---

// CreateTickets appends a complete batch for a booking atomically.
func (m *MemoryStore) CreateTickets(ctx context.Context, ts []model.Ticket) error {
	if len(ts) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range ts {
		m.tickets[t.BookingID] = append(m.tickets[t.BookingID], t)
	}
	return nil
}

// ListTicketsByBooking returns all tickets issued for a booking.
func (m *MemoryStore) ListTicketsByBooking(ctx context.Context, bookingID string) ([]model.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts := m.tickets[bookingID]
	out := make([]model.Ticket, len(ts))
	copy(out, ts)
	return out, nil
}

// Bookings, Invoices and Tickets adapt the MemoryStore to the
// per-concern interfaces so one instance can serve everything the
// service needs.  The method-name indirection exists because the
// ScheduleStore and BookingStore contracts both declare Create/Get.

type memoryBookings struct{ *MemoryStore }

func (a memoryBookings) Create(ctx context.Context, b *model.Booking) error {
	return a.CreateBooking(ctx, b)
}
func (a memoryBookings) Get(ctx context.Context, id string) (*model.Booking, error) {
	return a.GetBooking(ctx, id)
}

type memoryInvoices struct{ *MemoryStore }

func (a memoryInvoices) Create(ctx context.Context, inv *model.Invoice) error {
	return a.CreateInvoice(ctx, inv)
}
func (a memoryInvoices) GetByBooking(ctx context.Context, bookingID string) (*model.Invoice, error) {
	return a.GetInvoiceByBooking(ctx, bookingID)
}

type memoryTickets struct{ *MemoryStore }

func (a memoryTickets) CreateBatch(ctx context.Context, ts []model.Ticket) error {
	return a.CreateTickets(ctx, ts)
}
func (a memoryTickets) ListByBooking(ctx context.Context, bookingID string) ([]model.Ticket, error) {
	return a.ListTicketsByBooking(ctx, bookingID)
}

// Schedules returns the store's ScheduleStore view.
func (m *MemoryStore) Schedules() ScheduleStore { return m }

// Bookings returns the store's BookingStore view.
func (m *MemoryStore) Bookings() BookingStore { return memoryBookings{m} }

// Invoices returns the store's InvoiceStore view.
func (m *MemoryStore) Invoices() InvoiceStore { return memoryInvoices{m} }

// Tickets returns the store's TicketStore view.
func (m *MemoryStore) Tickets() TicketStore { return memoryTickets{m} }

var (
	_ ScheduleStore = (*MemoryStore)(nil)
	_ BookingStore  = memoryBookings{}
	_ InvoiceStore  = memoryInvoices{}
	_ TicketStore   = memoryTickets{}
)
