package storage

import (
	"context"
	"encoding/hex"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/outbox"
)

// Memory is an in-process CalendarStore and AppointmentStore. A single mutex
// serialises writers, which gives the same per-day exclusion the Postgres
// repository gets from advisory locks.
type Memory struct {
	mu       sync.RWMutex
	configs  map[string]model.ProviderConfig
	windows  map[string][]model.WorkingWindow
	specials map[string][]model.SpecialDay
	services map[string]model.Service
	appts    map[string]model.Appointment
	byToken  map[string]string
	events   []outbox.Event
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		configs:  make(map[string]model.ProviderConfig),
		windows:  make(map[string][]model.WorkingWindow),
		specials: make(map[string][]model.SpecialDay),
		services: make(map[string]model.Service),
		appts:    make(map[string]model.Appointment),
		byToken:  make(map[string]string),
		now:      time.Now,
	}
}

func (m *Memory) PutProviderConfig(cfg model.ProviderConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.ProviderID] = cfg
}

func (m *Memory) PutWorkingWindow(w model.WorkingWindow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[w.ProviderID] = append(m.windows[w.ProviderID], w)
}

func (m *Memory) PutSpecialDay(sd model.SpecialDay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specials[sd.ProviderID] = append(m.specials[sd.ProviderID], sd)
}

func (m *Memory) PutService(s model.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
}

// PutAppointment stores appt as-is, bypassing checks. Used to seed fixtures.
func (m *Memory) PutAppointment(appt model.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appts[appt.ID] = appt
	if len(appt.TokenDigest) > 0 {
		m.byToken[hex.EncodeToString(appt.TokenDigest)] = appt.ID
	}
}

// Events returns a copy of every event recorded so far.
func (m *Memory) Events() []outbox.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

func (m *Memory) ProviderConfig(_ context.Context, providerID string) (model.ProviderConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.configs[providerID]; ok {
		return cfg, nil
	}
	return model.DefaultProviderConfig(providerID), nil
}

func (m *Memory) WorkingWindows(_ context.Context, providerID string, weekday time.Weekday) ([]model.WorkingWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.WorkingWindow
	for _, w := range m.windows[providerID] {
		if w.Weekday == weekday {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (m *Memory) SpecialDays(_ context.Context, providerID string, day time.Time) ([]model.SpecialDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := model.DayKey(day)
	var out []model.SpecialDay
	for _, sd := range m.specials[providerID] {
		if model.DayKey(sd.Date) == key {
			out = append(out, sd)
		}
	}
	return out, nil
}

func (m *Memory) Service(_ context.Context, serviceID string) (model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[serviceID]
	if !ok {
		return model.Service{}, apperr.NotFound("service %q not found", serviceID)
	}
	return s, nil
}

// PrimaryProviderID returns the provider with the most active working
// windows. Ties go to the lexically smallest id.
func (m *Memory) PrimaryProviderID(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	best, bestCount := "", 0
	for id, ws := range m.windows {
		n := 0
		for _, w := range ws {
			if w.Active {
				n++
			}
		}
		if n > bestCount || (n == bestCount && n > 0 && id < best) {
			best, bestCount = id, n
		}
	}
	if best == "" {
		return "", apperr.NotFound("no provider has working hours configured")
	}
	return best, nil
}

func (m *Memory) Blocking(_ context.Context, providerID string, day time.Time) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.day(providerID, day, true), nil
}

func (m *Memory) ListDay(_ context.Context, providerID string, day time.Time) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.day(providerID, day, false), nil
}

func (m *Memory) day(providerID string, day time.Time, blockingOnly bool) []model.Appointment {
	key := model.DayKey(day)
	var out []model.Appointment
	for _, a := range m.appts {
		if a.ProviderID != providerID || model.DayKey(a.Date) != key {
			continue
		}
		if blockingOnly && !a.State.Blocking() {
			continue
		}
		out = append(out, a)
	}
	sortByStart(out)
	return out
}

func (m *Memory) Get(_ context.Context, id string) (model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, apperr.NotFound("appointment %q not found", id)
	}
	return a, nil
}

func (m *Memory) Insert(_ context.Context, appt model.Appointment, check CheckFunc, event EventFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if check != nil {
		if err := check(m.day(appt.ProviderID, appt.Date, true)); err != nil {
			return err
		}
	}
	if _, exists := m.appts[appt.ID]; exists {
		return apperr.Conflict("appointment %q already exists", appt.ID)
	}
	if err := m.record(appt, event); err != nil {
		return err
	}
	m.appts[appt.ID] = appt
	if len(appt.TokenDigest) > 0 {
		m.byToken[hex.EncodeToString(appt.TokenDigest)] = appt.ID
	}
	return nil
}

func (m *Memory) Transition(_ context.Context, id string, ch Change) (model.Appointment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, false, apperr.NotFound("appointment %q not found", id)
	}
	return m.apply(a, ch)
}

func (m *Memory) TransitionByToken(_ context.Context, digest []byte, clientRef string, ch Change) (model.Appointment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[hex.EncodeToString(digest)]
	if !ok {
		return model.Appointment{}, false, apperr.NotFound("appointment not found for token")
	}
	a := m.appts[id]
	if a.ClientRef != clientRef {
		return model.Appointment{}, false, apperr.NotFound("appointment not found for token")
	}
	return m.apply(a, ch)
}

func (m *Memory) apply(a model.Appointment, ch Change) (model.Appointment, bool, error) {
	next, err := ch.Decide(a)
	if err != nil {
		return a, false, err
	}
	if next == a.State {
		return a, false, nil
	}
	a.State = next
	a.UpdatedAt = ch.At
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = m.now()
	}
	if err := m.record(a, ch.Event); err != nil {
		return model.Appointment{}, false, err
	}
	m.appts[a.ID] = a
	return a, true, nil
}

func (m *Memory) record(a model.Appointment, event EventFunc) error {
	if event == nil {
		return nil
	}
	evt, err := event(a)
	if err != nil {
		return err
	}
	m.events = append(m.events, evt)
	return nil
}

func (m *Memory) Overdue(_ context.Context, now time.Time, after Cursor, limit int) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Appointment
	for _, a := range m.appts {
		if !a.State.Terminal() && !a.EndTime.After(now) && !after.covers(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].EndTime.Before(out[j].EndTime)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByStart(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].StartTime.Equal(appts[j].StartTime) {
			return appts[i].StartTime.Before(appts[j].StartTime)
		}
		return appts[i].ID < appts[j].ID
	})
}

var (
	_ CalendarStore         = (*Memory)(nil)
	_ AppointmentStore      = (*Memory)(nil)
	_ PrimaryProviderSource = (*Memory)(nil)
)
