// Package repository defines the persistence contracts of the booking
// engine together with the sentinel errors shared by all store
// implementations. Higher layers compare against these values with
// errors.Is to distinguish expected outcomes (no seats left) from races
// (stale state), missing records and retryable infrastructure failures.
package repository

import "errors"

// ErrCapacityExceeded is returned by Reserve when a schedule does not
// have enough remaining seats for the requested party. It is an
// expected, user-facing outcome and never indicates a fault. Handlers
// translate it into an HTTP 409 response.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// ErrInvalidState is returned when a booking transition is attempted
// from a state that does not permit it, or when a counter mutation
// would underflow. It usually means the caller lost a race (for
// example the sweeper expired a hold that an admin was confirming) or
// is acting on stale data. Handlers translate it into HTTP 409.
var ErrInvalidState = errors.New("invalid booking state")

// ErrNotFound is returned when a schedule, booking, invoice or ticket
// id is unknown. Handlers translate it into HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrTransient is returned for failures that are expected to clear on
// retry: lock acquisition timeouts, dropped connections, transaction
// deadlocks. The service layer retries these a bounded number of times
// before surfacing them; handlers translate the surfaced error into
// HTTP 503 with a retry hint.
var ErrTransient = errors.New("transient store failure")
