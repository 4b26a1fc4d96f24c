package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/apptengine/libs/db"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
)

type CalendarRepository struct {
	pool *db.Pool
}

func NewCalendarRepository(pool *db.Pool) *CalendarRepository {
	return &CalendarRepository{pool: pool}
}

func (r *CalendarRepository) ProviderConfig(ctx context.Context, providerID string) (model.ProviderConfig, error) {
	cfg := model.ProviderConfig{ProviderID: providerID}
	err := r.pool.QueryRow(ctx, `
		SELECT buffer_minutes, lead_time_minutes, max_per_day, timezone
		FROM provider_configs
		WHERE provider_id = $1
	`, providerID).Scan(&cfg.BufferMinutes, &cfg.LeadTimeMinutes, &cfg.MaxPerDay, &cfg.Timezone)
	if err != nil {
		if db.IsNotFound(err) {
			return model.DefaultProviderConfig(providerID), nil
		}
		return model.ProviderConfig{}, fmt.Errorf("load provider config: %w", err)
	}
	return cfg, nil
}

func (r *CalendarRepository) WorkingWindows(ctx context.Context, providerID string, weekday time.Weekday) ([]model.WorkingWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day_of_week, start_minute, end_minute, break_start, break_end, active
		FROM working_hours
		WHERE provider_id = $1 AND day_of_week = $2
		ORDER BY start_minute
	`, providerID, int(weekday))
	if err != nil {
		return nil, fmt.Errorf("query working hours: %w", err)
	}
	windows, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WorkingWindow, error) {
		w := model.WorkingWindow{ProviderID: providerID}
		var dow int16
		err := row.Scan(&dow, &w.StartMinute, &w.EndMinute, &w.BreakStart, &w.BreakEnd, &w.Active)
		w.Weekday = time.Weekday(dow)
		return w, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan working hours: %w", err)
	}
	return windows, nil
}

func (r *CalendarRepository) SpecialDays(ctx context.Context, providerID string, day time.Time) ([]model.SpecialDay, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT kind, all_day, start_minute, end_minute
		FROM special_days
		WHERE provider_id = $1 AND day = $2::date
		ORDER BY id
	`, providerID, model.DayKey(day))
	if err != nil {
		return nil, fmt.Errorf("query special days: %w", err)
	}
	specials, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SpecialDay, error) {
		sd := model.SpecialDay{ProviderID: providerID, Date: day}
		var kind string
		err := row.Scan(&kind, &sd.AllDay, &sd.StartMinute, &sd.EndMinute)
		sd.Kind = model.SpecialDayKind(kind)
		return sd, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan special days: %w", err)
	}
	return specials, nil
}

func (r *CalendarRepository) Service(ctx context.Context, serviceID string) (model.Service, error) {
	s := model.Service{ID: serviceID}
	err := r.pool.QueryRow(ctx, `
		SELECT provider_id, name, duration_minutes, active
		FROM services
		WHERE id = $1
	`, serviceID).Scan(&s.ProviderID, &s.Name, &s.DurationMinutes, &s.Active)
	if err != nil {
		if db.IsNotFound(err) {
			return model.Service{}, apperr.NotFound("service %q not found", serviceID)
		}
		return model.Service{}, fmt.Errorf("load service: %w", err)
	}
	return s, nil
}

// PrimaryProviderID picks the provider with the most active working-hour
// rows. Ties go to the smallest provider id.
func (r *CalendarRepository) PrimaryProviderID(ctx context.Context) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT provider_id
		FROM working_hours
		WHERE active
		GROUP BY provider_id
		ORDER BY count(*) DESC, provider_id ASC
		LIMIT 1
	`).Scan(&id)
	if err != nil {
		if db.IsNotFound(err) {
			return "", apperr.NotFound("no provider has working hours configured")
		}
		return "", fmt.Errorf("resolve primary provider: %w", err)
	}
	return id, nil
}

var (
	_ CalendarStore         = (*CalendarRepository)(nil)
	_ PrimaryProviderSource = (*CalendarRepository)(nil)
)
