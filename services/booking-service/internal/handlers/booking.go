package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptengine/libs/httpx"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/storage"
)

type BookingHandler struct {
	manager         *booking.Manager
	slots           *availability.Generator
	primary         *storage.PrimaryProviderCache
	defaultProvider string
	logger          *slog.Logger
	now             func() time.Time
}

type Options struct {
	// DefaultProviderID is used when a public request omits provider_id.
	DefaultProviderID string
	// Primary resolves the provider when no default is configured. May be nil.
	Primary *storage.PrimaryProviderCache
	Now     func() time.Time
}

func NewBookingHandler(manager *booking.Manager, slots *availability.Generator, logger *slog.Logger, opts Options) *BookingHandler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &BookingHandler{
		manager:         manager,
		slots:           slots,
		primary:         opts.Primary,
		defaultProvider: strings.TrimSpace(opts.DefaultProviderID),
		logger:          logger,
		now:             opts.Now,
	}
}

func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/book", h.Book)
	mux.HandleFunc("/api/v1/public/cancel", h.CancelByToken)
	mux.HandleFunc("/api/v1/appointments/transition", h.Transition)
	mux.HandleFunc("/api/v1/appointments", h.List)
}

type slotItem struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"duration_minutes"`
}

type bookRequest struct {
	ProviderID string `json:"provider_id"`
	ServiceID  string `json:"service_id"`
	ClientRef  string `json:"client_ref"`
	Date       string `json:"date"`
	Start      string `json:"start"`
}

type bookResponse struct {
	AppointmentID     string `json:"appointment_id"`
	CancellationToken string `json:"cancellation_token"`
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Action        string `json:"action"`
}

type cancelRequest struct {
	CancellationToken string `json:"cancellation_token"`
	ClientRef         string `json:"client_ref"`
}

type stateResponse struct {
	AppointmentID string `json:"appointment_id"`
	State         string `json:"state"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ProviderID    string `json:"provider_id"`
	ServiceID     string `json:"service_id"`
	ClientRef     string `json:"client_ref"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	State         string `json:"state"`
	CreatedAt     string `json:"created_at"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	date, err := availability.ParseDate(q.Get("date"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	providerID, err := h.resolveProvider(r.Context(), q.Get("provider_id"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}

	slots, err := h.slots.Slots(r.Context(), availability.Query{
		ProviderID: providerID,
		ServiceID:  strings.TrimSpace(q.Get("service_id")),
		Date:       date,
	}, h.now())
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			Start:           availability.FormatClock(s.Start),
			End:             availability.FormatClock(s.End),
			DurationMinutes: s.DurationMinutes,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req bookRequest
	if !decode(w, r, h.logger, &req) {
		return
	}
	date, err := availability.ParseDate(req.Date)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	startMinute, err := availability.ParseClock(req.Start)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	providerID, err := h.resolveProvider(r.Context(), req.ProviderID)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}

	b, err := h.manager.Create(r.Context(), booking.CreateRequest{
		ProviderID:  providerID,
		ServiceID:   req.ServiceID,
		ClientRef:   req.ClientRef,
		Date:        date,
		StartMinute: startMinute,
	})
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, bookResponse{
		AppointmentID:     b.Appointment.ID,
		CancellationToken: b.CancellationToken,
	})
}

func (h *BookingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req transitionRequest
	if !decode(w, r, h.logger, &req) {
		return
	}
	action, err := booking.ParseAction(strings.TrimSpace(req.Action))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	appt, err := h.manager.Apply(r.Context(), req.AppointmentID, action)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stateResponse{AppointmentID: appt.ID, State: string(appt.State)})
}

func (h *BookingHandler) CancelByToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req cancelRequest
	if !decode(w, r, h.logger, &req) {
		return
	}
	appt, err := h.manager.CancelByToken(r.Context(), req.CancellationToken, req.ClientRef)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stateResponse{AppointmentID: appt.ID, State: string(appt.State)})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	date, err := availability.ParseDate(q.Get("date"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	appts, err := h.manager.ListDay(r.Context(), q.Get("provider_id"), date)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toItem(a))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func toItem(a model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID: a.ID,
		ProviderID:    a.ProviderID,
		ServiceID:     a.ServiceID,
		ClientRef:     a.ClientRef,
		Date:          model.DayKey(a.Date),
		StartTime:     a.StartTime.UTC().Format(time.RFC3339),
		EndTime:       a.EndTime.UTC().Format(time.RFC3339),
		State:         string(a.State),
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// resolveProvider prefers the explicit id, then the configured default, then
// the primary provider cache.
func (h *BookingHandler) resolveProvider(ctx context.Context, explicit string) (string, error) {
	if id := strings.TrimSpace(explicit); id != "" {
		return id, nil
	}
	if h.defaultProvider != "" {
		return h.defaultProvider, nil
	}
	if h.primary == nil {
		return "", apperr.Validation("provider_id is required")
	}
	return h.primary.Resolve(ctx)
}

func decode(w http.ResponseWriter, r *http.Request, logger *slog.Logger, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErr(w, r, logger, apperr.Validation("invalid json body"))
		return false
	}
	return true
}
