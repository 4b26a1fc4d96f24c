package model

import "time"

// State is an appointment lifecycle state.
type State string

const (
	StateReserved   State = "reserved"
	StateConfirmed  State = "confirmed"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
	StateNoShow     State = "no_show"
)

// OpenStates are the non-terminal states, in lifecycle order.
var OpenStates = []State{StateReserved, StateConfirmed, StateInProgress}

func (s State) Valid() bool {
	switch s {
	case StateReserved, StateConfirmed, StateInProgress, StateCompleted, StateCancelled, StateNoShow:
		return true
	}
	return false
}

// Terminal states have no outgoing transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateNoShow
}

// Blocking reports whether an appointment in this state occupies its interval.
// Completed appointments still block; cancelled and no-show ones free the slot.
func (s State) Blocking() bool {
	return s != StateCancelled && s != StateNoShow
}

type Appointment struct {
	ID         string
	ProviderID string
	ClientRef  string
	ServiceID  string
	// Date is local midnight of the appointment day in the provider's time zone.
	Date      time.Time
	StartTime time.Time
	EndTime   time.Time
	State     State
	// TokenDigest is the keyed digest of the cancellation token. The plain
	// token is only ever returned to the booking client.
	TokenDigest []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DayKey formats a date the way appointments are grouped (YYYY-MM-DD).
func DayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
