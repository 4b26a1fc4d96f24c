package booking

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/storage"
)

// Source names who triggered a lifecycle change.
type Source string

const (
	SourceClient   Source = "client"
	SourceProvider Source = "provider"
	SourceSweep    Source = "sweep"
)

const aggregateAppointment = "appointment"

// EventType returns the topic for an appointment event, e.g.
// booking.appointment.confirmed.v1.
func EventType(name string) string {
	return "booking.appointment." + name + ".v1"
}

type eventPayload struct {
	AppointmentID string `json:"appointment_id"`
	ProviderID    string `json:"provider_id"`
	ServiceID     string `json:"service_id"`
	ClientRef     string `json:"client_ref"`
	State         string `json:"state"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Source        Source `json:"source"`
	OccurredAt    string `json:"occurred_at"`
}

// lifecycleEvent builds the event for appt after a mutation. name is
// "created" for new bookings and the new state otherwise.
func lifecycleEvent(name string, source Source, at time.Time) storage.EventFunc {
	return func(appt model.Appointment) (outbox.Event, error) {
		eventName := name
		if eventName == "" {
			eventName = string(appt.State)
		}
		payload, err := json.Marshal(eventPayload{
			AppointmentID: appt.ID,
			ProviderID:    appt.ProviderID,
			ServiceID:     appt.ServiceID,
			ClientRef:     appt.ClientRef,
			State:         string(appt.State),
			Date:          model.DayKey(appt.Date),
			StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
			EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
			Source:        source,
			OccurredAt:    at.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return outbox.Event{}, err
		}
		return outbox.Event{
			EventID:       uuid.NewString(),
			AggregateType: aggregateAppointment,
			AggregateID:   appt.ID,
			EventType:     EventType(eventName),
			Payload:       payload,
		}, nil
	}
}
