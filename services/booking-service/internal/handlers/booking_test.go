package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptengine/libs/httpx"
	"github.com/md-rashed-zaman/apptengine/libs/runtime"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/storage"
)

var testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	mux   *http.ServeMux
	store *storage.Memory
}

func newHarness(t *testing.T, opts Options) harness {
	t.Helper()
	mem := storage.NewMemory()
	bs, be := 12*60, 13*60
	mem.PutWorkingWindow(model.WorkingWindow{ProviderID: "p1", Weekday: time.Tuesday, StartMinute: 9 * 60, EndMinute: 14 * 60, BreakStart: &bs, BreakEnd: &be, Active: true})
	mem.PutProviderConfig(model.ProviderConfig{ProviderID: "p1", BufferMinutes: 0, Timezone: "UTC"})
	mem.PutService(model.Service{ID: "s1", ProviderID: "p1", DurationMinutes: 60, Active: true})

	now := func() time.Time { return testNow }
	logger := runtime.NopLogger()
	mgr := booking.NewManager(mem, mem, logger, booking.Config{TokenSecret: []byte("k"), Now: now})
	gen := availability.NewGenerator(mem, mem, availability.ScanFixed)
	opts.Now = now
	h := NewBookingHandler(mgr, gen, logger, opts)

	mux := http.NewServeMux()
	h.Register(mux)
	return harness{mux: mux, store: mem}
}

func (h harness) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSlotsEndpoint(t *testing.T) {
	h := newHarness(t, Options{})

	rec := h.do(t, http.MethodGet, "/api/v1/public/slots?provider_id=p1&service_id=s1&date=2026-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	slots := decodeBody[[]slotItem](t, rec)
	assert.Equal(t, []slotItem{
		{Start: "09:00", End: "10:00", DurationMinutes: 60},
		{Start: "10:00", End: "11:00", DurationMinutes: 60},
		{Start: "11:00", End: "12:00", DurationMinutes: 60},
		{Start: "13:00", End: "14:00", DurationMinutes: 60},
	}, slots)

	rec = h.do(t, http.MethodGet, "/api/v1/public/slots?provider_id=p1&service_id=s1&date=2026-03-11", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", string(bytes.TrimSpace(rec.Body.Bytes())), "empty list, not null")
}

func TestSlotsEndpointErrors(t *testing.T) {
	h := newHarness(t, Options{})

	rec := h.do(t, http.MethodGet, "/api/v1/public/slots?provider_id=p1&service_id=s1&date=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[httpx.ErrorBody](t, rec)
	assert.Equal(t, "ValidationError", body.Error)

	rec = h.do(t, http.MethodGet, "/api/v1/public/slots?provider_id=p1&service_id=nope&date=2026-03-10", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/public/slots?service_id=s1&date=2026-03-10", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no provider and no resolver configured")

	rec = h.do(t, http.MethodPost, "/api/v1/public/slots", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSlotsResolvesProvider(t *testing.T) {
	t.Run("configured default", func(t *testing.T) {
		h := newHarness(t, Options{DefaultProviderID: "p1"})
		rec := h.do(t, http.MethodGet, "/api/v1/public/slots?service_id=s1&date=2026-03-10", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
	t.Run("primary provider cache", func(t *testing.T) {
		mem := storage.NewMemory()
		h := newHarness(t, Options{Primary: storage.NewPrimaryProviderCache(mem, time.Minute)})
		// The cache reads from its own source; seed it with p1's hours.
		mem.PutWorkingWindow(model.WorkingWindow{ProviderID: "p1", Weekday: time.Tuesday, StartMinute: 540, EndMinute: 600, Active: true})
		rec := h.do(t, http.MethodGet, "/api/v1/public/slots?service_id=s1&date=2026-03-10", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestBookTransitionAndCancelFlow(t *testing.T) {
	h := newHarness(t, Options{})

	rec := h.do(t, http.MethodPost, "/api/v1/public/book", bookRequest{
		ProviderID: "p1", ServiceID: "s1", ClientRef: "c1", Date: "2026-03-10", Start: "10:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booked := decodeBody[bookResponse](t, rec)
	require.NotEmpty(t, booked.AppointmentID)
	require.NotEmpty(t, booked.CancellationToken)

	rec = h.do(t, http.MethodPost, "/api/v1/public/book", bookRequest{
		ProviderID: "p1", ServiceID: "s1", ClientRef: "c2", Date: "2026-03-10", Start: "10:30",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ConflictDetected", decodeBody[httpx.ErrorBody](t, rec).Error)

	rec = h.do(t, http.MethodGet, "/api/v1/public/slots?provider_id=p1&service_id=s1&date=2026-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, s := range decodeBody[[]slotItem](t, rec) {
		assert.NotEqual(t, "10:00", s.Start)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/appointments/transition", transitionRequest{AppointmentID: booked.AppointmentID, Action: "confirm"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stateResponse{AppointmentID: booked.AppointmentID, State: "confirmed"}, decodeBody[stateResponse](t, rec))

	rec = h.do(t, http.MethodPost, "/api/v1/appointments/transition", transitionRequest{AppointmentID: booked.AppointmentID, Action: "confirm"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "InvalidTransition", decodeBody[httpx.ErrorBody](t, rec).Error)

	rec = h.do(t, http.MethodPost, "/api/v1/appointments/transition", transitionRequest{AppointmentID: booked.AppointmentID, Action: "teleport"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/appointments/transition", transitionRequest{AppointmentID: "missing", Action: "cancel"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/public/cancel", cancelRequest{CancellationToken: booked.CancellationToken, ClientRef: "c1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decodeBody[stateResponse](t, rec).State)

	rec = h.do(t, http.MethodGet, "/api/v1/appointments?provider_id=p1&date=2026-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody[[]appointmentItem](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "cancelled", items[0].State)
	assert.Equal(t, "2026-03-10T10:00:00Z", items[0].StartTime)
}

func TestBookRejectsBadInput(t *testing.T) {
	h := newHarness(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", bytes.NewBufferString(`{"provider_id":`))
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/public/book", bookRequest{ProviderID: "p1", ServiceID: "s1", ClientRef: "c1", Date: "2026-03-10", Start: "9am"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/public/book", bookRequest{ProviderID: "p1", ServiceID: "s1", ClientRef: "c1", Date: "2026-03-10", Start: "12:30"})
	assert.Equal(t, http.StatusConflict, rec.Code, "inside the break")
}

func TestStatusMapping(t *testing.T) {
	cases := map[error]int{
		apperr.Validation("x"):        http.StatusBadRequest,
		apperr.InvalidWindow("x"):     http.StatusUnprocessableEntity,
		apperr.NotFound("x"):          http.StatusNotFound,
		apperr.Conflict("x"):          http.StatusConflict,
		apperr.InvalidTransition("x"): http.StatusConflict,
		errors.New("boom"):            http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(apperr.KindOf(err)), err.Error())
	}
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	writeErr(rec, req, runtime.NopLogger(), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody[httpx.ErrorBody](t, rec)
	assert.Equal(t, "Internal", body.Error)
	assert.Equal(t, "internal error", body.Message)
}
