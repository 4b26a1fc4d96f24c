package booking

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptengine/libs/runtime"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/internal/storage"
)

// 2026-03-10 is a Tuesday.
var (
	testDay = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
)

func newManager(t *testing.T, store storage.AppointmentStore, mem *storage.Memory) *Manager {
	t.Helper()
	mem.PutWorkingWindow(model.WorkingWindow{ProviderID: "p1", Weekday: time.Tuesday, StartMinute: 9 * 60, EndMinute: 17 * 60, Active: true})
	mem.PutService(model.Service{ID: "s1", ProviderID: "p1", DurationMinutes: 30, Active: true})
	return NewManager(mem, store, runtime.NopLogger(), Config{
		TokenSecret: []byte("test-secret"),
		Now:         func() time.Time { return testNow },
	})
}

func request(startMinute int) CreateRequest {
	return CreateRequest{ProviderID: "p1", ServiceID: "s1", ClientRef: "client-1", Date: testDay, StartMinute: startMinute}
}

func seed(mem *storage.Memory, id string, end time.Time, state model.State) {
	mem.PutAppointment(model.Appointment{
		ID:         id,
		ProviderID: "p1",
		ServiceID:  "s1",
		Date:       testDay,
		StartTime:  end.Add(-30 * time.Minute),
		EndTime:    end,
		State:      state,
	})
}

func TestCreateReservesAndEmitsEvent(t *testing.T) {
	mem := storage.NewMemory()
	m := newManager(t, mem, mem)

	b, err := m.Create(context.Background(), request(10*60))
	require.NoError(t, err)
	assert.NotEmpty(t, b.CancellationToken)
	assert.Equal(t, model.StateReserved, b.Appointment.State)
	assert.Equal(t, testDay.Add(10*time.Hour), b.Appointment.StartTime)
	assert.Equal(t, testDay.Add(10*time.Hour+30*time.Minute), b.Appointment.EndTime)
	assert.NotEqual(t, []byte(b.CancellationToken), b.Appointment.TokenDigest)

	events := mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "booking.appointment.created.v1", events[0].EventType)
	assert.Equal(t, b.Appointment.ID, events[0].AggregateID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "client", payload["source"])
	assert.Equal(t, "2026-03-10T10:00:00Z", payload["start_time"])
}

func TestCreateRejections(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	m := newManager(t, mem, mem)
	_, err := m.Create(ctx, request(10*60))
	require.NoError(t, err)

	cases := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"missing client", CreateRequest{ProviderID: "p1", ServiceID: "s1", Date: testDay, StartMinute: 600}, apperr.ErrValidation},
		{"unknown service", CreateRequest{ProviderID: "p1", ServiceID: "x", ClientRef: "c", Date: testDay, StartMinute: 600}, apperr.ErrNotFound},
		{"overlap", request(10*60 + 15), apperr.ErrConflict},
		{"outside hours", request(8 * 60), apperr.ErrConflict},
		{"runs past close", request(16*60 + 45), apperr.ErrConflict},
		{"closed weekday", CreateRequest{ProviderID: "p1", ServiceID: "s1", ClientRef: "c", Date: testDay.AddDate(0, 0, 1), StartMinute: 600}, apperr.ErrConflict},
		{"in the past", CreateRequest{ProviderID: "p1", ServiceID: "s1", ClientRef: "c", Date: testNow.AddDate(0, 0, -1), StartMinute: 600}, apperr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// Back-to-back bookings do not overlap.
	_, err = m.Create(ctx, request(10*60+30))
	require.NoError(t, err)
}

func TestCreateBreakIsNotBookable(t *testing.T) {
	mem := storage.NewMemory()
	bs, be := 12*60, 13*60
	mem.PutWorkingWindow(model.WorkingWindow{ProviderID: "p1", Weekday: time.Tuesday, StartMinute: 9 * 60, EndMinute: 17 * 60, BreakStart: &bs, BreakEnd: &be, Active: true})
	mem.PutService(model.Service{ID: "s1", ProviderID: "p1", DurationMinutes: 30, Active: true})
	m := NewManager(mem, mem, runtime.NopLogger(), Config{Now: func() time.Time { return testNow }})

	_, err := m.Create(context.Background(), request(12*60+15))
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreateDailyCap(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	mem.PutProviderConfig(model.ProviderConfig{ProviderID: "p1", MaxPerDay: 1, Timezone: "UTC"})
	m := newManager(t, mem, mem)

	_, err := m.Create(ctx, request(9*60))
	require.NoError(t, err)
	_, err = m.Create(ctx, request(11*60))
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreateHonoursLeadTimeToday(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	mem.PutProviderConfig(model.ProviderConfig{ProviderID: "p1", LeadTimeMinutes: 120, Timezone: "UTC"})
	mem.PutWorkingWindow(model.WorkingWindow{ProviderID: "p1", Weekday: time.Tuesday, StartMinute: 9 * 60, EndMinute: 17 * 60, Active: true})
	mem.PutService(model.Service{ID: "s1", ProviderID: "p1", DurationMinutes: 30, Active: true})
	now := testDay.Add(9*time.Hour + 10*time.Minute)
	m := NewManager(mem, mem, runtime.NopLogger(), Config{Now: func() time.Time { return now }})

	_, err := m.Create(ctx, request(10*60))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = m.Create(ctx, request(11*60+30))
	require.NoError(t, err)

	nextWeek := request(10 * 60)
	nextWeek.Date = testDay.AddDate(0, 0, 7)
	_, err = m.Create(ctx, nextWeek)
	require.NoError(t, err)
}

func TestConcurrentCommitsOnSameSlot(t *testing.T) {
	mem := storage.NewMemory()
	m := newManager(t, mem, mem)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.Create(context.Background(), request(14*60))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	m := newManager(t, mem, mem)
	b, err := m.Create(ctx, request(9*60))
	require.NoError(t, err)
	id := b.Appointment.ID

	_, err = m.BeginService(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "begin requires a confirmed appointment")

	a, err := m.Confirm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirmed, a.State)

	_, err = m.Confirm(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	a, err = m.BeginService(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StateInProgress, a.State)

	a, err = m.Complete(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, a.State)

	_, err = m.Cancel(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = m.MarkNoShow(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = m.Confirm(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	var types []string
	for _, e := range mem.Events() {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{
		"booking.appointment.created.v1",
		"booking.appointment.confirmed.v1",
		"booking.appointment.in_progress.v1",
		"booking.appointment.completed.v1",
	}, types)
}

func TestTerminalStatesFromAnyOpenState(t *testing.T) {
	for _, from := range model.OpenStates {
		for _, action := range []Action{ActionCancel, ActionNoShow, ActionComplete} {
			next, err := Next(from, action)
			require.NoError(t, err, "%s from %s", action, from)
			assert.True(t, next.Terminal())
		}
	}
	for _, from := range []model.State{model.StateCompleted, model.StateCancelled, model.StateNoShow} {
		for action := range rules {
			_, err := Next(from, action)
			assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
		}
	}

	_, err := ParseAction("archive")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCancelledSlotCanBeRebooked(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	m := newManager(t, mem, mem)

	b, err := m.Create(ctx, request(9*60))
	require.NoError(t, err)
	_, err = m.Cancel(ctx, b.Appointment.ID)
	require.NoError(t, err)

	_, err = m.Create(ctx, request(9*60))
	require.NoError(t, err)
}

func TestCancelByToken(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	m := newManager(t, mem, mem)
	b, err := m.Create(ctx, request(9*60))
	require.NoError(t, err)

	_, err = m.CancelByToken(ctx, b.CancellationToken, "someone-else")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = m.CancelByToken(ctx, "forged", "client-1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = m.CancelByToken(ctx, "", "client-1")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	a, err := m.CancelByToken(ctx, b.CancellationToken, "client-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, a.State)

	_, err = m.CancelByToken(ctx, b.CancellationToken, "client-1")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestSweepCompletesOverdueOnly(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	m := newManager(t, mem, mem)

	end := testDay.Add(10 * time.Hour)
	seed(mem, "reserved", end, model.StateReserved)
	seed(mem, "cancelled", end, model.StateCancelled)
	seed(mem, "later", end.Add(time.Hour), model.StateConfirmed)

	res, err := m.AutoCompleteSweep(ctx, end.Add(5*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, res.Count())
	assert.Equal(t, "reserved", res.Completed[0].ID)
	assert.Empty(t, res.Failures)

	a, err := mem.Get(ctx, "reserved")
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, a.State)
	c, err := mem.Get(ctx, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, c.State)
	l, err := mem.Get(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirmed, l.State)

	events := mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "booking.appointment.completed.v1", events[0].EventType)

	again, err := m.AutoCompleteSweep(ctx, end.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, again.Count())
	assert.Len(t, mem.Events(), 1)
}

type flakyStore struct {
	*storage.Memory
	failIDs []string
}

func (s flakyStore) Transition(ctx context.Context, id string, ch storage.Change) (model.Appointment, bool, error) {
	if slices.Contains(s.failIDs, id) {
		return model.Appointment{}, false, errors.New("row lock timeout")
	}
	return s.Memory.Transition(ctx, id, ch)
}

func TestSweepIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	m := newManager(t, flakyStore{Memory: mem, failIDs: []string{"b"}}, mem)
	m.sweepBatch = 2

	end := testDay.Add(10 * time.Hour)
	seed(mem, "a", end, model.StateReserved)
	seed(mem, "b", end, model.StateConfirmed)
	seed(mem, "c", end, model.StateInProgress)

	res, err := m.AutoCompleteSweep(ctx, end)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "b", res.Failures[0].AppointmentID)

	for _, id := range []string{"a", "c"} {
		a, err := mem.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StateCompleted, a.State)
	}
}

func TestSweepPagesPastFullBatchOfFailures(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	m := newManager(t, flakyStore{Memory: mem, failIDs: []string{"a", "b"}}, mem)
	m.sweepBatch = 2

	end := testDay.Add(10 * time.Hour)
	seed(mem, "a", end, model.StateReserved)
	seed(mem, "b", end, model.StateReserved)
	seed(mem, "c", end, model.StateReserved)

	res, err := m.AutoCompleteSweep(ctx, end)
	require.NoError(t, err)
	assert.Len(t, res.Failures, 2)
	require.Equal(t, 1, res.Count())
	assert.Equal(t, "c", res.Completed[0].ID)

	c, err := mem.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, c.State)
}

func TestTokensDigestIsKeyed(t *testing.T) {
	a := NewTokens([]byte("one"))
	b := NewTokens([]byte("two"))

	tok, digest, err := a.Issue()
	require.NoError(t, err)
	assert.Equal(t, digest, a.Digest(tok))
	assert.NotEqual(t, digest, b.Digest(tok))

	long := NewTokens(make([]byte, 200))
	assert.Len(t, long.Digest(tok), 32)
}

func TestListDay(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	m := newManager(t, mem, mem)
	_, err := m.Create(ctx, request(11*60))
	require.NoError(t, err)
	_, err = m.Create(ctx, request(9*60))
	require.NoError(t, err)

	appts, err := m.ListDay(ctx, "p1", testDay)
	require.NoError(t, err)
	require.Len(t, appts, 2)
	assert.True(t, appts[0].StartTime.Before(appts[1].StartTime))

	_, err = m.ListDay(ctx, "", testDay)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
