package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/apptengine/libs/db"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/outbox"
)

const appointmentColumns = `
	id::text, provider_id, client_ref, service_id, appt_date, start_time, end_time,
	state, token_digest, created_at, updated_at`

type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: outboxRepo}
}

func (r *BookingRepository) Blocking(ctx context.Context, providerID string, day time.Time) ([]model.Appointment, error) {
	return r.listDay(ctx, r.pool, providerID, day, true)
}

func (r *BookingRepository) ListDay(ctx context.Context, providerID string, day time.Time) ([]model.Appointment, error) {
	return r.listDay(ctx, r.pool, providerID, day, false)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *BookingRepository) listDay(ctx context.Context, q querier, providerID string, day time.Time, blockingOnly bool) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND appt_date = $2::date
			AND (NOT $3 OR state NOT IN ('cancelled', 'no_show'))
		ORDER BY start_time ASC, id ASC
	`, providerID, model.DayKey(day), blockingOnly)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	appts, err := pgx.CollectRows(rows, scanAppointment)
	if err != nil {
		return nil, fmt.Errorf("scan appointments: %w", err)
	}
	return appts, nil
}

// appointmentUUID parses an appointment id. A malformed id cannot match any
// row, so it is reported as not found.
func appointmentUUID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, apperr.NotFound("appointment %q not found", id)
	}
	return u, nil
}

func (r *BookingRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	key, err := appointmentUUID(id)
	if err != nil {
		return model.Appointment{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, key)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load appointment: %w", err)
	}
	appt, err := pgx.CollectExactlyOneRow(rows, scanAppointment)
	if err != nil {
		if db.IsNotFound(err) {
			return model.Appointment{}, apperr.NotFound("appointment %q not found", id)
		}
		return model.Appointment{}, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

// Insert takes a transaction-scoped advisory lock on (provider, day), runs
// check against the day's blocking appointments, then inserts. The partial
// unique index and the exclusion constraint back the lock up.
func (r *BookingRepository) Insert(ctx context.Context, appt model.Appointment, check CheckFunc, event EventFunc) error {
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, lockKey(appt.ProviderID, appt.Date)); err != nil {
			return fmt.Errorf("lock day: %w", err)
		}
		if check != nil {
			existing, err := r.listDay(ctx, tx, appt.ProviderID, appt.Date, true)
			if err != nil {
				return err
			}
			if err := check(existing); err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO appointments
				(id, provider_id, client_ref, service_id, appt_date, start_time, end_time, state, token_digest, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10, $10)
		`, appt.ID, appt.ProviderID, appt.ClientRef, appt.ServiceID, model.DayKey(appt.Date),
			appt.StartTime, appt.EndTime, string(appt.State), appt.TokenDigest, appt.CreatedAt)
		if err != nil {
			return err
		}
		return r.writeEvent(ctx, tx, appt, event)
	})
	if db.IsUniqueViolation(err) {
		return apperr.Wrap(apperr.KindConflict, err, "time slot already booked")
	}
	return err
}

func (r *BookingRepository) Transition(ctx context.Context, id string, ch Change) (model.Appointment, bool, error) {
	key, err := appointmentUUID(id)
	if err != nil {
		return model.Appointment{}, false, err
	}
	return r.transition(ctx, ch, `WHERE id = $1`, key)
}

func (r *BookingRepository) TransitionByToken(ctx context.Context, digest []byte, clientRef string, ch Change) (model.Appointment, bool, error) {
	return r.transition(ctx, ch, `WHERE token_digest = $1 AND client_ref = $2`, digest, clientRef)
}

func (r *BookingRepository) transition(ctx context.Context, ch Change, where string, args ...any) (model.Appointment, bool, error) {
	var (
		appt    model.Appointment
		changed bool
	)
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments `+where+` FOR UPDATE`, args...)
		if err != nil {
			return fmt.Errorf("lock appointment: %w", err)
		}
		appt, err = pgx.CollectExactlyOneRow(rows, scanAppointment)
		if err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound("appointment not found")
			}
			return fmt.Errorf("lock appointment: %w", err)
		}

		next, err := ch.Decide(appt)
		if err != nil {
			return err
		}
		if next == appt.State {
			return nil
		}

		at := ch.At
		if at.IsZero() {
			at = time.Now()
		}
		key, err := appointmentUUID(appt.ID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE appointments
			SET state = $2, updated_at = $3
			WHERE id = $1
		`, key, string(next), at); err != nil {
			return fmt.Errorf("update appointment state: %w", err)
		}
		appt.State = next
		appt.UpdatedAt = at
		changed = true
		return r.writeEvent(ctx, tx, appt, ch.Event)
	})
	if err != nil {
		return model.Appointment{}, false, err
	}
	return appt, changed, nil
}

func (r *BookingRepository) Overdue(ctx context.Context, now time.Time, after Cursor, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 500
	}
	var afterEnd *time.Time
	var afterID *uuid.UUID
	if !after.IsZero() {
		id, err := uuid.Parse(after.ID)
		if err != nil {
			return nil, fmt.Errorf("overdue cursor: %w", err)
		}
		afterEnd, afterID = &after.EndTime, &id
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE end_time <= $1
			AND state IN ('reserved', 'confirmed', 'in_progress')
			AND ($2::timestamptz IS NULL OR (end_time, id) > ($2::timestamptz, $3::uuid))
		ORDER BY end_time ASC, id ASC
		LIMIT $4
	`, now, afterEnd, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query overdue appointments: %w", err)
	}
	appts, err := pgx.CollectRows(rows, scanAppointment)
	if err != nil {
		return nil, fmt.Errorf("scan overdue appointments: %w", err)
	}
	return appts, nil
}

func (r *BookingRepository) writeEvent(ctx context.Context, tx pgx.Tx, appt model.Appointment, event EventFunc) error {
	if event == nil || r.outbox == nil {
		return nil
	}
	evt, err := event(appt)
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return fmt.Errorf("write outbox event: %w", err)
	}
	return nil
}

func scanAppointment(row pgx.CollectableRow) (model.Appointment, error) {
	var (
		a     model.Appointment
		state string
	)
	err := row.Scan(&a.ID, &a.ProviderID, &a.ClientRef, &a.ServiceID, &a.Date, &a.StartTime, &a.EndTime,
		&state, &a.TokenDigest, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	a.State = model.State(state)
	if !a.State.Valid() {
		return model.Appointment{}, errors.New("unknown appointment state " + state)
	}
	return a, nil
}

var _ AppointmentStore = (*BookingRepository)(nil)
