// Package scheduling implements the appointment engine: slot generation from
// provider availability, the reserve/confirm/expire state machine, and the
// wiring between the two and the expiry timers.
package scheduling

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/slotline/slotline/services/scheduling-service/internal/expiry"
	"github.com/slotline/slotline/services/scheduling-service/internal/fault"
	"github.com/slotline/slotline/services/scheduling-service/internal/model"
	"github.com/slotline/slotline/services/scheduling-service/internal/outbox"
	"github.com/slotline/slotline/services/scheduling-service/internal/slots"
)

// Mutation is a guarded state change applied by the store. Event, when set,
// is written in the same transaction as the row update.
type Mutation struct {
	Status     model.Status
	Client     string
	ReservedAt *time.Time
	Event      *outbox.Event
}

// Store is the persistence contract the engine consumes. Implementations map
// storage-level outcomes onto the fault taxonomy (missing row -> NotFound,
// existing day slots without overwrite -> Conflict).
type Store interface {
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	ListAvailable(ctx context.Context, date *time.Time, provider string) ([]model.Appointment, error)
	ListReserved(ctx context.Context) ([]model.Appointment, error)

	// UpdateStateIf applies mut only when the row's current status equals
	// expect, returning ok=false when the guard fails. This is the
	// storage-side half of per-appointment serialization; the keyed mutex
	// covers the in-process half.
	UpdateStateIf(ctx context.Context, id string, expect model.Status, mut Mutation) (model.Appointment, bool, error)

	// ReplaceDaySlots atomically checks, optionally deletes, and inserts a
	// provider's slots for one day.
	ReplaceDaySlots(ctx context.Context, provider string, day time.Time, starts []time.Time, overwrite bool, evt *outbox.Event) error
}

// Expirer arms and disarms unconfirmed-reservation timers.
type Expirer interface {
	Schedule(appointmentID string, delay time.Duration)
	Cancel(appointmentID string)
}

// ListingCache caches available-slot listings per provider and day.
// A nil cache disables caching.
type ListingCache interface {
	Get(ctx context.Context, provider, day string) ([]model.Appointment, bool)
	Set(ctx context.Context, provider, day string, appts []model.Appointment)
	InvalidateDay(ctx context.Context, provider, day string)
}

// Config carries the engine's externally supplied constants.
type Config struct {
	SlotDuration time.Duration // length of every bookable slot
	LeadTime     time.Duration // minimum gap between now and a reservable slot
	ExpiryDelay  time.Duration // how long an unconfirmed reservation is held
}

type Service struct {
	store    Store
	timers   Expirer
	listings ListingCache
	logger   *slog.Logger
	cfg      Config
	perID    *keyedMutex
	now      func() time.Time
}

type Option func(*Service)

// WithTimers substitutes the expiry scheduler, used by tests.
func WithTimers(t Expirer) Option {
	return func(s *Service) { s.timers = t }
}

// WithClock substitutes the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, listings ListingCache, logger *slog.Logger, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		listings: listings,
		logger:   logger,
		cfg:      cfg,
		perID:    newKeyedMutex(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timers == nil {
		s.timers = expiry.NewScheduler(logger, s.Expire)
	}
	return s
}

// Close cancels all pending expiry timers.
func (s *Service) Close() {
	if stopper, ok := s.timers.(interface{ Stop() }); ok {
		stopper.Stop()
	}
}

func (s *Service) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	return s.store.GetByID(ctx, id)
}

// ListAvailable returns available appointments, optionally narrowed to a
// provider and a day. Listings for a concrete (provider, day) pair are served
// read-through from the cache.
func (s *Service) ListAvailable(ctx context.Context, date *time.Time, provider string) ([]model.Appointment, error) {
	cacheable := provider != "" && date != nil
	var dayKey string
	if cacheable {
		dayKey = date.UTC().Format("2006-01-02")
		if s.listings != nil {
			if appts, ok := s.listings.Get(ctx, provider, dayKey); ok {
				return appts, nil
			}
		}
	}

	appts, err := s.store.ListAvailable(ctx, date, provider)
	if err != nil {
		return nil, err
	}
	if cacheable && s.listings != nil {
		s.listings.Set(ctx, provider, dayKey, appts)
	}
	return appts, nil
}

// Reserve tentatively assigns an available appointment to a client and arms
// the expiry timer. Reserving an appointment the same client already holds is
// idempotent and re-arms the timer.
func (s *Service) Reserve(ctx context.Context, id, client string) (model.Appointment, error) {
	unlock := s.perID.lock(id)
	defer unlock()

	appt, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}

	if appt.Status != model.StatusAvailable && appt.Client != client {
		return model.Appointment{}, fault.Conflict(
			"appointment %s is already scheduled for another client, please choose a new time", id)
	}

	remaining := appt.Time.UTC().Sub(s.now().UTC())
	if remaining < s.cfg.LeadTime {
		return model.Appointment{}, fault.LeadTime(
			"appointments must be reserved %.0f hours in advance (%.2f hours remain)",
			s.cfg.LeadTime.Hours(), remaining.Hours())
	}

	reservedAt := s.now().UTC()
	updated, ok, err := s.store.UpdateStateIf(ctx, id, appt.Status, Mutation{
		Status:     model.StatusReserved,
		Client:     client,
		ReservedAt: &reservedAt,
		Event:      s.lifecycleEvent(outbox.EventReserved, appt, model.StatusReserved, client),
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if !ok {
		return model.Appointment{}, fault.Conflict(
			"appointment %s changed while reserving, please retry", id)
	}

	s.timers.Schedule(id, s.cfg.ExpiryDelay)
	s.invalidateListing(ctx, updated)
	s.logger.Info("appointment reserved", "appointment_id", id, "client", client, "provider", updated.Provider)
	return updated, nil
}

// Confirm finalizes a reservation and disarms its expiry timer. Confirming an
// already confirmed appointment is idempotent.
func (s *Service) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	unlock := s.perID.lock(id)
	defer unlock()

	appt, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.StatusAvailable {
		return model.Appointment{}, fault.BadRequest(
			"appointment %s is currently available, please reserve it before attempting to confirm", id)
	}

	updated, ok, err := s.store.UpdateStateIf(ctx, id, appt.Status, Mutation{
		Status:     model.StatusConfirmed,
		Client:     appt.Client,
		ReservedAt: appt.ReservedAt,
		Event:      s.lifecycleEvent(outbox.EventConfirmed, appt, model.StatusConfirmed, appt.Client),
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if !ok {
		return model.Appointment{}, fault.Conflict(
			"appointment %s changed while confirming, please retry", id)
	}

	// Absent timers (already fired, never armed) cancel silently.
	s.timers.Cancel(id)
	s.invalidateListing(ctx, updated)
	s.logger.Info("appointment confirmed", "appointment_id", id, "client", updated.Client)
	return updated, nil
}

// Expire reverts a still-unconfirmed reservation to available. Invoked by the
// expiry scheduler, never by clients. A reservation confirmed in the interim
// wins the race; expiry then does nothing.
func (s *Service) Expire(ctx context.Context, id string) error {
	unlock := s.perID.lock(id)
	defer unlock()

	appt, err := s.store.GetByID(ctx, id)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			// Slot was regenerated out from under the timer; nothing to revert.
			return nil
		}
		return err
	}
	if appt.Status != model.StatusReserved {
		return nil
	}

	updated, ok, err := s.store.UpdateStateIf(ctx, id, model.StatusReserved, Mutation{
		Status: model.StatusAvailable,
		Event:  s.lifecycleEvent(outbox.EventExpired, appt, model.StatusAvailable, appt.Client),
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	s.invalidateListing(ctx, updated)
	s.logger.Warn("appointment unconfirmed past deadline, marked available again",
		"appointment_id", id, "provider", appt.Provider)
	return nil
}

// SetAvailability expands a provider's working window into slots and writes
// them. Existing slots for the day fail the call unless overwrite is set, in
// which case they are deleted and regenerated in the same transaction.
func (s *Service) SetAvailability(ctx context.Context, provider string, day time.Time, start, end slots.ClockTime, overwrite bool) error {
	day = day.UTC().Truncate(24 * time.Hour)

	starts, err := slots.Generate(day, start, end, s.cfg.SlotDuration)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"provider":   provider,
		"date":       day.Format("2006-01-02"),
		"slot_count": len(starts),
		"first_slot": starts[0].Format(time.RFC3339),
		"last_slot":  starts[len(starts)-1].Format(time.RFC3339),
		"overwrite":  overwrite,
	})
	if err != nil {
		return fault.Internal(err, "failed to build availability event")
	}

	err = s.store.ReplaceDaySlots(ctx, provider, day, starts, overwrite, &outbox.Event{
		AggregateType: "provider",
		AggregateID:   provider,
		EventType:     outbox.EventAvailabilitySet,
		Payload:       payload,
	})
	if err != nil {
		return err
	}

	if s.listings != nil {
		s.listings.InvalidateDay(ctx, provider, day.Format("2006-01-02"))
	}
	s.logger.Info("availability set", "provider", provider, "date", day.Format("2006-01-02"), "slots", len(starts))
	return nil
}

// Rehydrate re-arms expiry timers for reservations that were pending when the
// process last stopped. Overdue reservations expire immediately.
func (s *Service) Rehydrate(ctx context.Context) error {
	reserved, err := s.store.ListReserved(ctx)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	for _, appt := range reserved {
		delay := s.cfg.ExpiryDelay
		if appt.ReservedAt != nil {
			delay = appt.ReservedAt.Add(s.cfg.ExpiryDelay).Sub(now)
		}
		s.timers.Schedule(appt.ID, delay)
	}
	if len(reserved) > 0 {
		s.logger.Info("rehydrated expiry timers", "count", len(reserved))
	}
	return nil
}

func (s *Service) lifecycleEvent(eventType string, appt model.Appointment, next model.Status, client string) *outbox.Event {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"provider":       appt.Provider,
		"time":           appt.Time.UTC().Format(time.RFC3339),
		"status":         string(next),
		"client":         client,
	})
	if err != nil {
		s.logger.Error("failed to build lifecycle event payload", "err", err)
		return nil
	}
	return &outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}

func (s *Service) invalidateListing(ctx context.Context, appt model.Appointment) {
	if s.listings == nil {
		return
	}
	s.listings.InvalidateDay(ctx, appt.Provider, appt.Time.UTC().Format("2006-01-02"))
}
