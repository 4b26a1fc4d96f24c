// Package booking owns the appointment lifecycle: commit of new bookings,
// explicit state transitions, token cancellation and the auto-completion
// sweep.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/apptengine/libs/otel"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/storage"
)

type Manager struct {
	calendar   storage.CalendarStore
	appts      storage.AppointmentStore
	tokens     *Tokens
	logger     *slog.Logger
	now        func() time.Time
	sweepBatch int
	tracer     trace.Tracer
}

type Config struct {
	// TokenSecret keys the cancellation token digest.
	TokenSecret []byte
	// SweepBatchSize bounds how many overdue appointments one sweep pass loads.
	SweepBatchSize int
	Now            func() time.Time
}

func NewManager(calendar storage.CalendarStore, appts storage.AppointmentStore, logger *slog.Logger, cfg Config) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 200
	}
	return &Manager{
		calendar:   calendar,
		appts:      appts,
		tokens:     NewTokens(cfg.TokenSecret),
		logger:     logger,
		now:        cfg.Now,
		sweepBatch: cfg.SweepBatchSize,
		tracer:     otelx.Tracer("booking-service/booking"),
	}
}

type CreateRequest struct {
	ProviderID string
	ServiceID  string
	ClientRef  string
	// Date carries the calendar date only.
	Date        time.Time
	StartMinute int
}

type Booking struct {
	Appointment       model.Appointment
	CancellationToken string
}

func (r CreateRequest) validate() error {
	var missing []string
	if r.ProviderID == "" {
		missing = append(missing, "provider_id")
	}
	if r.ServiceID == "" {
		missing = append(missing, "service_id")
	}
	if r.ClientRef == "" {
		missing = append(missing, "client_ref")
	}
	if r.Date.IsZero() {
		missing = append(missing, "date")
	}
	if len(missing) > 0 {
		return apperr.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}
	if r.StartMinute < 0 || r.StartMinute >= 24*60 {
		return apperr.Validation("start must be within the day")
	}
	return nil
}

// Create commits a new reserved appointment. The window, overlap and daily
// cap checks run inside the store's per-day critical section, so two
// concurrent commits for the same interval cannot both succeed.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Booking, error) {
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.ClientRef = strings.TrimSpace(req.ClientRef)
	if err := req.validate(); err != nil {
		return Booking{}, err
	}

	ctx, span := m.tracer.Start(ctx, "booking.create", trace.WithAttributes(
		attribute.String("provider_id", req.ProviderID),
		attribute.String("service_id", req.ServiceID),
		attribute.String("date", model.DayKey(req.Date)),
	))
	defer span.End()

	svc, err := availability.ActiveService(ctx, m.calendar, req.ProviderID, req.ServiceID)
	if err != nil {
		return Booking{}, err
	}
	plan, err := availability.Plan(ctx, m.calendar, req.ProviderID, req.Date)
	if err != nil {
		return Booking{}, err
	}

	now := m.now()
	start := availability.At(plan.Day, req.StartMinute)
	if start.Before(now) {
		return Booking{}, apperr.Validation("cannot book a time in the past")
	}
	if earliest := plan.EarliestStart(now); !earliest.IsZero() && start.Before(earliest) {
		return Booking{}, apperr.Validation("bookings need %d minutes notice", plan.Config.LeadTimeMinutes)
	}
	iv := availability.Interval{Start: start, End: start.Add(svc.Duration())}

	token, digest, err := m.tokens.Issue()
	if err != nil {
		return Booking{}, err
	}
	appt := model.Appointment{
		ID:          uuid.NewString(),
		ProviderID:  req.ProviderID,
		ClientRef:   req.ClientRef,
		ServiceID:   svc.ID,
		Date:        plan.Day,
		StartTime:   iv.Start,
		EndTime:     iv.End,
		State:       model.StateReserved,
		TokenDigest: digest,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	check := func(existing []model.Appointment) error {
		if !availability.Fits(plan.Day, plan.Windows, iv) {
			return apperr.Conflict("requested time is outside working hours")
		}
		for _, e := range existing {
			if availability.Overlaps(iv, availability.Interval{Start: e.StartTime, End: e.EndTime}) {
				return apperr.Conflict("time slot already booked")
			}
		}
		if plan.Config.MaxPerDay > 0 && len(existing) >= plan.Config.MaxPerDay {
			return apperr.Conflict("daily booking limit reached")
		}
		return nil
	}

	if err := m.appts.Insert(ctx, appt, check, lifecycleEvent("created", SourceClient, now)); err != nil {
		span.SetStatus(codes.Error, apperr.Message(err))
		return Booking{}, err
	}
	span.SetAttributes(attribute.String("appointment_id", appt.ID))
	m.logger.InfoContext(ctx, "appointment reserved",
		"appointment_id", appt.ID,
		"provider_id", appt.ProviderID,
		"start", appt.StartTime.Format(time.RFC3339),
	)
	return Booking{Appointment: appt, CancellationToken: token}, nil
}

func (m *Manager) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	return m.Apply(ctx, id, ActionConfirm)
}

func (m *Manager) BeginService(ctx context.Context, id string) (model.Appointment, error) {
	return m.Apply(ctx, id, ActionBegin)
}

func (m *Manager) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	return m.Apply(ctx, id, ActionCancel)
}

func (m *Manager) Complete(ctx context.Context, id string) (model.Appointment, error) {
	return m.Apply(ctx, id, ActionComplete)
}

func (m *Manager) MarkNoShow(ctx context.Context, id string) (model.Appointment, error) {
	return m.Apply(ctx, id, ActionNoShow)
}

// Apply runs action against appointment id on behalf of the provider.
func (m *Manager) Apply(ctx context.Context, id string, action Action) (model.Appointment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Appointment{}, apperr.Validation("appointment_id is required")
	}
	now := m.now()
	appt, _, err := m.appts.Transition(ctx, id, storage.Change{
		Decide: func(a model.Appointment) (model.State, error) { return Next(a.State, action) },
		Event:  lifecycleEvent("", SourceProvider, now),
		At:     now,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	m.logger.InfoContext(ctx, "appointment transitioned", "appointment_id", appt.ID, "action", string(action), "state", string(appt.State))
	return appt, nil
}

// CancelByToken cancels the appointment the token was issued for. The client
// reference must match the one used at booking time.
func (m *Manager) CancelByToken(ctx context.Context, token, clientRef string) (model.Appointment, error) {
	token = strings.TrimSpace(token)
	clientRef = strings.TrimSpace(clientRef)
	if token == "" || clientRef == "" {
		return model.Appointment{}, apperr.Validation("cancellation_token and client_ref are required")
	}
	now := m.now()
	appt, _, err := m.appts.TransitionByToken(ctx, m.tokens.Digest(token), clientRef, storage.Change{
		Decide: func(a model.Appointment) (model.State, error) { return Next(a.State, ActionCancel) },
		Event:  lifecycleEvent("", SourceClient, now),
		At:     now,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	m.logger.InfoContext(ctx, "appointment cancelled by client", "appointment_id", appt.ID)
	return appt, nil
}

// ListDay returns every appointment of a provider on date, in start order.
func (m *Manager) ListDay(ctx context.Context, providerID string, date time.Time) ([]model.Appointment, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" || date.IsZero() {
		return nil, apperr.Validation("provider_id and date are required")
	}
	cfg, err := m.calendar.ProviderConfig(ctx, providerID)
	if err != nil {
		return nil, err
	}
	appts, err := m.appts.ListDay(ctx, providerID, availability.LocalDay(date, cfg.Location()))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}
