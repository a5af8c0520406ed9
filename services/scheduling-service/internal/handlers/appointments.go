package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slotline/slotline/services/scheduling-service/internal/fault"
	"github.com/slotline/slotline/services/scheduling-service/internal/model"
	"github.com/slotline/slotline/services/scheduling-service/internal/scheduling"
	"github.com/slotline/slotline/services/scheduling-service/internal/slots"
)

// AppointmentHandler adapts HTTP to the scheduling engine. Request-shape
// validation lives here; everything with domain meaning lives in the engine.
type AppointmentHandler struct {
	svc    *scheduling.Service
	logger *slog.Logger
}

func NewAppointmentHandler(svc *scheduling.Service, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/appointments", h.ListAvailable)
	mux.HandleFunc("GET /api/v1/appointments/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/appointments/{id}/reserve", h.Reserve)
	mux.HandleFunc("PUT /api/v1/appointments/{id}/confirm", h.Confirm)
	mux.HandleFunc("POST /api/v1/providers/{provider}/availability", h.SetAvailability)
}

type appointmentSummary struct {
	AppointmentID string `json:"appointment_id"`
	Provider      string `json:"provider"`
	Time          string `json:"time"`
	Status        string `json:"status"`
	Client        string `json:"client,omitempty"`
}

type reserveRequest struct {
	Client string `json:"client"`
}

type clockField struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

type availabilityRequest struct {
	Date  string     `json:"date"`
	Start clockField `json:"start"`
	End   clockField `json:"end"`
}

func (h *AppointmentHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	provider := strings.TrimSpace(r.URL.Query().Get("provider"))

	var date *time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		d, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			http.Error(w, "date must be formatted yyyy-mm-dd", http.StatusBadRequest)
			return
		}
		date = &d
	}

	appts, err := h.svc.ListAvailable(r.Context(), date, provider)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]appointmentSummary, 0, len(appts))
	for _, appt := range appts {
		items = append(items, summarize(appt))
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summarize(appt))
}

func (h *AppointmentHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Client = strings.TrimSpace(req.Client)
	if req.Client == "" {
		http.Error(w, "client is required", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.Reserve(r.Context(), r.PathValue("id"), req.Client)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summarize(appt))
}

func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Confirm(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summarize(appt))
}

func (h *AppointmentHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	provider := strings.TrimSpace(r.PathValue("provider"))
	if provider == "" {
		http.Error(w, "provider is required", http.StatusBadRequest)
		return
	}

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.Date), time.UTC)
	if err != nil {
		http.Error(w, "date must be formatted yyyy-mm-dd", http.StatusBadRequest)
		return
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if day.Before(today) {
		http.Error(w, "availability date must not be in the past", http.StatusBadRequest)
		return
	}
	if !validClock(req.Start) || !validClock(req.End) {
		http.Error(w, "start and end must be valid times of day", http.StatusBadRequest)
		return
	}
	if minuteOfDay(req.End) <= minuteOfDay(req.Start) {
		http.Error(w, "end must be after start", http.StatusBadRequest)
		return
	}

	overwrite := r.URL.Query().Get("overwrite") == "true"
	err = h.svc.SetAvailability(r.Context(), provider, day,
		slots.ClockTime{Hour: req.Start.Hour, Minute: req.Start.Minute},
		slots.ClockTime{Hour: req.End.Hour, Minute: req.End.Minute},
		overwrite)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func summarize(appt model.Appointment) appointmentSummary {
	return appointmentSummary{
		AppointmentID: appt.ID,
		Provider:      appt.Provider,
		Time:          appt.Time.UTC().Format(time.RFC3339),
		Status:        string(appt.Status),
		Client:        appt.Client,
	}
}

func validClock(c clockField) bool {
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

func minuteOfDay(c clockField) int {
	return c.Hour*60 + c.Minute
}

func (h *AppointmentHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case fault.KindConflict:
		http.Error(w, err.Error(), http.StatusConflict)
	case fault.KindValidation, fault.KindBadRequest:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case fault.KindLeadTime:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
