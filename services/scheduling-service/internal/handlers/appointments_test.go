package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/slotline/slotline/services/scheduling-service/internal/fault"
	"github.com/slotline/slotline/services/scheduling-service/internal/model"
	"github.com/slotline/slotline/services/scheduling-service/internal/outbox"
	"github.com/slotline/slotline/services/scheduling-service/internal/scheduling"
)

var handlerNow = time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)

type memStore struct {
	appts  map[string]model.Appointment
	daySet bool
	dayErr error
}

func (s *memStore) GetByID(_ context.Context, id string) (model.Appointment, error) {
	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, fault.NotFound("appointment %s not found", id)
	}
	return appt, nil
}

func (s *memStore) ListAvailable(_ context.Context, _ *time.Time, _ string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range s.appts {
		if a.Status == model.StatusAvailable {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) ListReserved(context.Context) ([]model.Appointment, error) { return nil, nil }

func (s *memStore) UpdateStateIf(_ context.Context, id string, expect model.Status, mut scheduling.Mutation) (model.Appointment, bool, error) {
	appt, ok := s.appts[id]
	if !ok || appt.Status != expect {
		return model.Appointment{}, false, nil
	}
	appt.Status = mut.Status
	appt.Client = mut.Client
	appt.ReservedAt = mut.ReservedAt
	s.appts[id] = appt
	return appt, true, nil
}

func (s *memStore) ReplaceDaySlots(_ context.Context, _ string, _ time.Time, _ []time.Time, _ bool, _ *outbox.Event) error {
	if s.dayErr != nil {
		return s.dayErr
	}
	s.daySet = true
	return nil
}

type noopTimers struct{}

func (noopTimers) Schedule(string, time.Duration) {}
func (noopTimers) Cancel(string)                  {}

func newTestHandler(store *memStore) http.Handler {
	logger := slog.New(slog.DiscardHandler)
	svc := scheduling.NewService(store, nil, logger, scheduling.Config{
		SlotDuration: 15 * time.Minute,
		LeadTime:     24 * time.Hour,
		ExpiryDelay:  30 * time.Minute,
	},
		scheduling.WithTimers(noopTimers{}),
		scheduling.WithClock(func() time.Time { return handlerNow }),
	)
	mux := http.NewServeMux()
	NewAppointmentHandler(svc, logger).Register(mux)
	return mux
}

func storeWith(appts ...model.Appointment) *memStore {
	s := &memStore{appts: map[string]model.Appointment{}}
	for _, a := range appts {
		s.appts[a.ID] = a
	}
	return s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	return rw
}

func TestGet_NotFound(t *testing.T) {
	h := newTestHandler(storeWith())
	rw := do(t, h, http.MethodGet, "/api/v1/appointments/nope", "")
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestListAvailable_OK(t *testing.T) {
	h := newTestHandler(storeWith(model.Appointment{
		ID: "a1", Provider: "dr-blake", Time: handlerNow.Add(48 * time.Hour), Status: model.StatusAvailable,
	}))
	rw := do(t, h, http.MethodGet, "/api/v1/appointments?provider=dr-blake", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	if !strings.Contains(rw.Body.String(), `"appointment_id":"a1"`) {
		t.Fatalf("listing missing appointment: %s", rw.Body.String())
	}
}

func TestListAvailable_BadDate(t *testing.T) {
	h := newTestHandler(storeWith())
	rw := do(t, h, http.MethodGet, "/api/v1/appointments?date=September+1st", "")
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestReserve_RequiresClient(t *testing.T) {
	h := newTestHandler(storeWith())
	rw := do(t, h, http.MethodPut, "/api/v1/appointments/a1/reserve", `{"client":"  "}`)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestReserve_ConflictForOtherClient(t *testing.T) {
	h := newTestHandler(storeWith(model.Appointment{
		ID: "a1", Provider: "dr-blake", Time: handlerNow.Add(48 * time.Hour),
		Status: model.StatusReserved, Client: "jdoe",
	}))
	rw := do(t, h, http.MethodPut, "/api/v1/appointments/a1/reserve", `{"client":"other"}`)
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
}

func TestReserve_LeadTimeViolation(t *testing.T) {
	h := newTestHandler(storeWith(model.Appointment{
		ID: "a1", Provider: "dr-blake", Time: handlerNow.Add(time.Hour), Status: model.StatusAvailable,
	}))
	rw := do(t, h, http.MethodPut, "/api/v1/appointments/a1/reserve", `{"client":"jdoe"}`)
	if rw.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rw.Code, rw.Body.String())
	}
}

func TestReserve_OK(t *testing.T) {
	h := newTestHandler(storeWith(model.Appointment{
		ID: "a1", Provider: "dr-blake", Time: handlerNow.Add(48 * time.Hour), Status: model.StatusAvailable,
	}))
	rw := do(t, h, http.MethodPut, "/api/v1/appointments/a1/reserve", `{"client":"jdoe"}`)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	if !strings.Contains(rw.Body.String(), `"status":"reserved"`) {
		t.Fatalf("expected reserved summary, got %s", rw.Body.String())
	}
}

func TestConfirm_AvailableIsBadRequest(t *testing.T) {
	h := newTestHandler(storeWith(model.Appointment{
		ID: "a1", Provider: "dr-blake", Time: handlerNow.Add(48 * time.Hour), Status: model.StatusAvailable,
	}))
	rw := do(t, h, http.MethodPut, "/api/v1/appointments/a1/confirm", "")
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestSetAvailability_OK(t *testing.T) {
	store := storeWith()
	h := newTestHandler(store)
	rw := do(t, h, http.MethodPost, "/api/v1/providers/dr-blake/availability",
		`{"date":"2030-01-02","start":{"hour":8,"minute":0},"end":{"hour":9,"minute":0}}`)
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rw.Code, rw.Body.String())
	}
	if !store.daySet {
		t.Fatal("slots were not written")
	}
}

func TestSetAvailability_PastDate(t *testing.T) {
	h := newTestHandler(storeWith())
	rw := do(t, h, http.MethodPost, "/api/v1/providers/dr-blake/availability",
		`{"date":"2020-01-02","start":{"hour":8,"minute":0},"end":{"hour":9,"minute":0}}`)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestSetAvailability_EndBeforeStart(t *testing.T) {
	h := newTestHandler(storeWith())
	rw := do(t, h, http.MethodPost, "/api/v1/providers/dr-blake/availability",
		`{"date":"2030-01-02","start":{"hour":9,"minute":0},"end":{"hour":8,"minute":0}}`)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestSetAvailability_WindowTooShort(t *testing.T) {
	h := newTestHandler(storeWith())
	rw := do(t, h, http.MethodPost, "/api/v1/providers/dr-blake/availability",
		`{"date":"2030-01-02","start":{"hour":8,"minute":15},"end":{"hour":8,"minute":16}}`)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rw.Code, rw.Body.String())
	}
}

func TestSetAvailability_ExistingDayConflicts(t *testing.T) {
	store := storeWith()
	store.dayErr = fault.Conflict("availability already exists for provider dr-blake on 2030-01-02")
	h := newTestHandler(store)
	rw := do(t, h, http.MethodPost, "/api/v1/providers/dr-blake/availability",
		`{"date":"2030-01-02","start":{"hour":8,"minute":0},"end":{"hour":9,"minute":0}}`)
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
}
