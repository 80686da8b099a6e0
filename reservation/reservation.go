// Package reservation holds a charger socket for the account by renewing the
// reservation on a fixed cadence. Each renewal is a cancel, a fresh payment
// order with its own gateway approval, and a re-reserve. One scheduler runs
// per account; it is the sole mutator of the reservation record, and outside
// callers reach it only through Start, Cancel and Status.
package reservation

import (
	"time"

	"github.com/pkg/errors"
)

// State of the held reservation. Charging, Cancelled, Expired and Failed are
// terminal: the scheduler stops and emits exactly one notification.
type State string

const (
	StateRequesting State = "requesting"
	StateActive     State = "active"
	StateRenewing   State = "renewing"
	StateCharging   State = "charging"
	StateCancelled  State = "cancelled"
	StateExpired    State = "expired"
	StateFailed     State = "failed"
)

// Terminal reports whether the scheduler stops in this state.
func (s State) Terminal() bool {
	switch s {
	case StateCharging, StateCancelled, StateExpired, StateFailed:
		return true
	}
	return false
}

// Snapshot is the reservation record as the scheduler maintains it. It is
// persisted on every transition so a restarted process can resume the
// renewal loop.
type Snapshot struct {
	ChargerID     int       `json:"charger_id"`
	SocketID      int       `json:"socket_id"`
	ReservationID int       `json:"reservation_id"`
	State         State     `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	LastRenewedAt time.Time `json:"last_renewed_at"`
	NextRenewalAt time.Time `json:"next_renewal_at"`
}

var (
	// ErrAlreadyActive rejects starting a reservation while one is held.
	ErrAlreadyActive = errors.New("a reservation is already active")

	// ErrResourceUnavailable means no connector on the requested charge
	// point can currently be reserved.
	ErrResourceUnavailable = errors.New("no available socket on the charge point")

	// ErrPaymentNotApproved means the gateway declined or timed out.
	ErrPaymentNotApproved = errors.New("payment was not approved")
)
