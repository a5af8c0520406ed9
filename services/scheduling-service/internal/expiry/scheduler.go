// Package expiry owns one cancellable timer per outstanding reservation and
// reverts reservations that are never confirmed.
package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpireFunc is invoked when a reservation's timer fires. A failure is logged
// and not retried; the appointment stays reserved until confirmed or corrected.
type ExpireFunc func(ctx context.Context, appointmentID string) error

// Scheduler maps appointment ids to pending timers. It is an owned component
// passed to the scheduling service, not process-global state, and its timers
// do not survive a restart (the service rehydrates them from storage on boot).
type Scheduler struct {
	expire ExpireFunc
	logger *slog.Logger

	mu     sync.Mutex
	gen    uint64
	timers map[string]timerHandle
}

// timerHandle tags each timer with a generation so a fired callback removes
// only its own registry entry, never a replacement armed in the meantime.
type timerHandle struct {
	timer *time.Timer
	gen   uint64
}

func NewScheduler(logger *slog.Logger, expire ExpireFunc) *Scheduler {
	return &Scheduler{
		expire: expire,
		logger: logger,
		timers: make(map[string]timerHandle),
	}
}

// Schedule arms a timer for the appointment. Any prior timer for the same id
// is cancelled first; there is never more than one live timer per id. A
// non-positive delay fires immediately.
func (s *Scheduler) Schedule(appointmentID string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.timers[appointmentID]; ok {
		prior.timer.Stop()
	}

	s.gen++
	gen := s.gen
	t := time.AfterFunc(delay, func() {
		s.fire(appointmentID, gen)
	})
	s.timers[appointmentID] = timerHandle{timer: t, gen: gen}
}

// Cancel stops and removes the timer for the appointment. Cancelling a timer
// that already fired or was never scheduled is a normal, silent outcome.
func (s *Scheduler) Cancel(appointmentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.timers[appointmentID]; ok {
		h.timer.Stop()
		delete(s.timers, appointmentID)
	}
}

// Stop cancels all pending timers. Callbacks already in flight finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, h := range s.timers {
		h.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) fire(appointmentID string, gen uint64) {
	if err := s.expire(context.Background(), appointmentID); err != nil {
		s.logger.Error("expiry failed; reservation left in place", "appointment_id", appointmentID, "err", err)
	}

	s.mu.Lock()
	if h, ok := s.timers[appointmentID]; ok && h.gen == gen {
		delete(s.timers, appointmentID)
	}
	s.mu.Unlock()
}

// Pending reports how many timers are armed. Used by tests and diagnostics.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
