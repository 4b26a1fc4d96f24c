package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/outbox"
)

// CalendarStore is read-only calendar data. ProviderConfig returns
// model.DefaultProviderConfig for providers without a stored row; Service
// returns an apperr NotFound error for unknown ids.
type CalendarStore interface {
	ProviderConfig(ctx context.Context, providerID string) (model.ProviderConfig, error)
	WorkingWindows(ctx context.Context, providerID string, weekday time.Weekday) ([]model.WorkingWindow, error)
	SpecialDays(ctx context.Context, providerID string, day time.Time) ([]model.SpecialDay, error)
	Service(ctx context.Context, serviceID string) (model.Service, error)
}

// CheckFunc vets a new appointment against the blocking appointments already
// stored for its provider and day. It runs while the day is locked.
type CheckFunc func(existing []model.Appointment) error

// DecideFunc returns the next state for appt. Returning appt.State leaves the
// row untouched and records no event.
type DecideFunc func(appt model.Appointment) (model.State, error)

// EventFunc builds the outbox event stored in the same transaction as the
// mutation it describes.
type EventFunc func(appt model.Appointment) (outbox.Event, error)

// Change describes one state transition.
type Change struct {
	Decide DecideFunc
	Event  EventFunc
	At     time.Time
}

// AppointmentStore persists appointments. Days are local midnights in the
// provider's zone and are compared by calendar date.
type AppointmentStore interface {
	Blocking(ctx context.Context, providerID string, day time.Time) ([]model.Appointment, error)
	ListDay(ctx context.Context, providerID string, day time.Time) ([]model.Appointment, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	// Insert stores appt after check accepts it. Concurrent inserts for the
	// same provider and day are serialised.
	Insert(ctx context.Context, appt model.Appointment, check CheckFunc, event EventFunc) error
	// Transition locks the appointment, asks ch.Decide for the next state
	// and persists it. The bool reports whether the state changed.
	Transition(ctx context.Context, id string, ch Change) (model.Appointment, bool, error)
	TransitionByToken(ctx context.Context, digest []byte, clientRef string, ch Change) (model.Appointment, bool, error)
	// Overdue lists open appointments whose end is at or before now, ordered
	// by (end, id) and strictly after the after cursor.
	Overdue(ctx context.Context, now time.Time, after Cursor, limit int) ([]model.Appointment, error)
}

// Cursor is a keyset position in the overdue ordering. The zero value
// starts from the beginning.
type Cursor struct {
	EndTime time.Time
	ID      string
}

// CursorAfter returns the position just past a.
func CursorAfter(a model.Appointment) Cursor {
	return Cursor{EndTime: a.EndTime, ID: a.ID}
}

func (c Cursor) IsZero() bool { return c.ID == "" }

// covers reports whether a sorts at or before c.
func (c Cursor) covers(a model.Appointment) bool {
	if c.IsZero() {
		return false
	}
	if !a.EndTime.Equal(c.EndTime) {
		return a.EndTime.Before(c.EndTime)
	}
	return a.ID <= c.ID
}

// PrimaryProviderSource picks the provider used when a request names none.
type PrimaryProviderSource interface {
	PrimaryProviderID(ctx context.Context) (string, error)
}

func lockKey(providerID string, day time.Time) string {
	return "booking:" + providerID + ":" + model.DayKey(day)
}
