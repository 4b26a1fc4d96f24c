package booking

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/storage"
)

type SweepFailure struct {
	AppointmentID string
	Err           error
}

type SweepResult struct {
	Completed []model.Appointment
	Failures  []SweepFailure
}

func (r SweepResult) Count() int { return len(r.Completed) }

// AutoCompleteSweep moves every open appointment whose end is at or before
// now to completed. Each appointment is handled on its own: a failure is
// recorded and the sweep moves on. Running it twice is harmless because the
// store re-checks the state under the row lock.
func (m *Manager) AutoCompleteSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	ctx, span := m.tracer.Start(ctx, "booking.sweep")
	defer span.End()

	var res SweepResult
	decide := func(a model.Appointment) (model.State, error) {
		if a.State.Terminal() || a.EndTime.After(now) {
			return a.State, nil
		}
		return model.StateCompleted, nil
	}
	change := storage.Change{
		Decide: decide,
		Event:  lifecycleEvent("", SourceSweep, now),
		At:     now,
	}

	var cursor storage.Cursor
	for {
		due, err := m.appts.Overdue(ctx, now, cursor, m.sweepBatch)
		if err != nil {
			return res, fmt.Errorf("load overdue appointments: %w", err)
		}

		for _, a := range due {
			appt, changed, err := m.appts.Transition(ctx, a.ID, change)
			if err != nil {
				m.logger.WarnContext(ctx, "auto-complete failed", "appointment_id", a.ID, "err", err)
				res.Failures = append(res.Failures, SweepFailure{AppointmentID: a.ID, Err: err})
				continue
			}
			if changed {
				res.Completed = append(res.Completed, appt)
			}
		}
		// Page past everything seen, failed rows included.
		if len(due) < m.sweepBatch {
			break
		}
		cursor = storage.CursorAfter(due[len(due)-1])
	}

	span.SetAttributes(
		attribute.Int("completed", res.Count()),
		attribute.Int("failed", len(res.Failures)),
	)
	if res.Count() > 0 || len(res.Failures) > 0 {
		m.logger.InfoContext(ctx, "auto-complete sweep finished", "completed", res.Count(), "failed", len(res.Failures))
	}
	return res, nil
}
