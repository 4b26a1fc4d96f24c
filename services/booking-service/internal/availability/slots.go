package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/apptengine/libs/otel"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/storage"
)

// ScanMode selects how the cursor moves past a candidate that collides with
// an existing appointment.
type ScanMode string

const (
	// ScanFixed always advances by duration+buffer, so candidates stay on a
	// fixed grid anchored at the window start.
	ScanFixed ScanMode = "fixed"
	// ScanJump moves the cursor to the colliding appointment's end plus
	// buffer, so the first gap after a booking is offered.
	ScanJump ScanMode = "jump"
)

func ParseScanMode(s string) (ScanMode, error) {
	switch ScanMode(s) {
	case "", ScanFixed:
		return ScanFixed, nil
	case ScanJump:
		return ScanJump, nil
	}
	return "", fmt.Errorf("unknown slot scan mode %q (want fixed or jump)", s)
}

type Slot struct {
	Start           time.Time
	End             time.Time
	DurationMinutes int
}

type Query struct {
	ProviderID string
	ServiceID  string
	// Date carries the calendar date only; its clock and zone are ignored.
	Date time.Time
}

// DayPlan is everything the generator and booking commit need to know about
// one provider day.
type DayPlan struct {
	Config  model.ProviderConfig
	Day     time.Time
	Windows []Window
}

type Generator struct {
	calendar storage.CalendarStore
	appts    storage.AppointmentStore
	mode     ScanMode
	tracer   trace.Tracer
}

func NewGenerator(calendar storage.CalendarStore, appts storage.AppointmentStore, mode ScanMode) *Generator {
	if mode == "" {
		mode = ScanFixed
	}
	return &Generator{
		calendar: calendar,
		appts:    appts,
		mode:     mode,
		tracer:   otelx.Tracer("booking-service/availability"),
	}
}

// Plan loads the provider config and effective windows for q.Date.
func Plan(ctx context.Context, calendar storage.CalendarStore, providerID string, date time.Time) (DayPlan, error) {
	cfg, err := calendar.ProviderConfig(ctx, providerID)
	if err != nil {
		return DayPlan{}, err
	}
	day := LocalDay(date, cfg.Location())

	windows, err := calendar.WorkingWindows(ctx, providerID, day.Weekday())
	if err != nil {
		return DayPlan{}, err
	}
	specials, err := calendar.SpecialDays(ctx, providerID, day)
	if err != nil {
		return DayPlan{}, err
	}
	resolved, err := ResolveWindows(windows, specials)
	if err != nil {
		return DayPlan{}, err
	}
	return DayPlan{Config: cfg, Day: day, Windows: resolved}, nil
}

// EarliestStart is now plus the provider's lead time when the plan is for
// the current local day. Other days have no lead-time floor and get zero.
func (p DayPlan) EarliestStart(now time.Time) time.Time {
	if !sameDay(p.Day, now.In(p.Day.Location())) {
		return time.Time{}
	}
	return now.Add(time.Duration(p.Config.LeadTimeMinutes) * time.Minute)
}

// ActiveService loads serviceID and rejects inactive services and services
// that belong to another provider.
func ActiveService(ctx context.Context, calendar storage.CalendarStore, providerID, serviceID string) (model.Service, error) {
	svc, err := calendar.Service(ctx, serviceID)
	if err != nil {
		return model.Service{}, err
	}
	if !svc.Active || (svc.ProviderID != "" && svc.ProviderID != providerID) {
		return model.Service{}, apperr.NotFound("service %q not found", serviceID)
	}
	if svc.DurationMinutes <= 0 {
		return model.Service{}, apperr.Validation("service %q has no duration", serviceID)
	}
	return svc, nil
}

// Slots returns the bookable slots for q, earliest first.
func (g *Generator) Slots(ctx context.Context, q Query, now time.Time) ([]Slot, error) {
	ctx, span := g.tracer.Start(ctx, "availability.slots", trace.WithAttributes(
		attribute.String("provider_id", q.ProviderID),
		attribute.String("service_id", q.ServiceID),
		attribute.String("date", model.DayKey(q.Date)),
	))
	defer span.End()

	if q.ProviderID == "" || q.ServiceID == "" {
		return nil, apperr.Validation("provider_id and service_id are required")
	}
	svc, err := ActiveService(ctx, g.calendar, q.ProviderID, q.ServiceID)
	if err != nil {
		return nil, err
	}
	plan, err := Plan(ctx, g.calendar, q.ProviderID, q.Date)
	if err != nil {
		return nil, err
	}

	localNow := now.In(plan.Day.Location())
	if plan.Day.Before(LocalDay(localNow, plan.Day.Location())) {
		return []Slot{}, nil
	}
	if len(plan.Windows) == 0 {
		return []Slot{}, nil
	}

	booked, err := g.appts.Blocking(ctx, q.ProviderID, plan.Day)
	if err != nil {
		return nil, fmt.Errorf("load blocking appointments: %w", err)
	}
	if plan.Config.MaxPerDay > 0 && len(booked) >= plan.Config.MaxPerDay {
		return []Slot{}, nil
	}

	busy := make([]Interval, 0, len(booked))
	for _, a := range booked {
		busy = append(busy, Interval{Start: a.StartTime, End: a.EndTime})
	}

	earliest := plan.EarliestStart(now)

	scan := scanner{
		duration: svc.Duration(),
		buffer:   time.Duration(plan.Config.BufferMinutes) * time.Minute,
		mode:     g.mode,
		earliest: earliest,
	}
	slots := []Slot{}
	for _, w := range plan.Windows {
		open, blocked := w.Bounds(plan.Day)
		for _, iv := range scan.window(open, blocked, busy) {
			slots = append(slots, Slot{Start: iv.Start, End: iv.End, DurationMinutes: svc.DurationMinutes})
		}
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	span.SetAttributes(attribute.Int("slots", len(slots)))
	return slots, nil
}

type scanner struct {
	duration time.Duration
	buffer   time.Duration
	mode     ScanMode
	earliest time.Time
}

// window enumerates candidates in open. A candidate that ends past the
// window end stops the scan; one that overlaps a blocked range, a busy
// interval, or starts before earliest is skipped.
func (s scanner) window(open Interval, blocked, busy []Interval) []Interval {
	step := s.duration + s.buffer
	if s.duration <= 0 {
		return nil
	}

	var out []Interval
	for cursor := open.Start; ; {
		c := Interval{Start: cursor, End: cursor.Add(s.duration)}
		if c.End.After(open.End) {
			break
		}
		next := cursor.Add(step)
		switch {
		case overlapsAny(c, blocked):
		case s.collides(c, busy, &next):
		case !s.earliest.IsZero() && c.Start.Before(s.earliest):
		default:
			out = append(out, c)
		}
		cursor = next
	}
	return out
}

func (s scanner) collides(c Interval, busy []Interval, next *time.Time) bool {
	b, ok := firstOverlap(c, busy)
	if !ok {
		return false
	}
	if s.mode == ScanJump {
		if j := b.End.Add(s.buffer); j.After(c.Start) {
			*next = j
		}
	}
	return true
}
