// Package timer implements personal countdown timers. Timers persist in the
// store so a restart cannot silently swallow one; a periodic sweep fires the
// expired ones.
package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/studycord/studycord/internal/store"
)

// ErrBadDuration marks a request outside the allowed range.
var ErrBadDuration = errors.New("timer: duration out of range")

// Store is the persistence slice the service uses.
type Store interface {
	AddTimer(ctx context.Context, userID string, end time.Time, minutes int) error
	ExpiredTimers(ctx context.Context, now time.Time) ([]store.Timer, error)
	DeleteTimer(ctx context.Context, id int64) error
}

// Notifier delivers the ring. Implementations DM the user.
type Notifier interface {
	TimerFinished(ctx context.Context, userID string, minutes int) error
}

// Service validates, persists and sweeps timers.
type Service struct {
	store      Store
	notify     Notifier
	log        *slog.Logger
	maxMinutes int
	now        func() time.Time
}

// New builds the service. maxMinutes caps a single timer.
func New(st Store, notify Notifier, log *slog.Logger, maxMinutes int) *Service {
	return &Service{store: st, notify: notify, log: log, maxMinutes: maxMinutes, now: time.Now}
}

// Set registers a timer of the given length for the user.
func (s *Service) Set(ctx context.Context, userID string, minutes int) (time.Time, error) {
	if minutes < 1 || minutes > s.maxMinutes {
		return time.Time{}, fmt.Errorf("%w: %d minutes (allowed 1-%d)", ErrBadDuration, minutes, s.maxMinutes)
	}
	end := s.now().Add(time.Duration(minutes) * time.Minute)
	if err := s.store.AddTimer(ctx, userID, end, minutes); err != nil {
		return time.Time{}, err
	}
	s.log.Debug("timer set", "user", userID, "minutes", minutes)
	return end, nil
}

// Sweep fires every expired timer. A timer is deleted before its
// notification goes out, so a flaky delivery can drop a ring but a crashed
// sweep can never ring the same timer twice.
func (s *Service) Sweep(ctx context.Context) int {
	expired, err := s.store.ExpiredTimers(ctx, s.now())
	if err != nil {
		s.log.Error("expired timer scan failed", "error", err)
		return 0
	}
	fired := 0
	for _, t := range expired {
		if err := s.store.DeleteTimer(ctx, t.ID); err != nil {
			s.log.Error("timer delete failed", "id", t.ID, "error", err)
			continue
		}
		if err := s.notify.TimerFinished(ctx, t.UserID, t.Minutes); err != nil {
			s.log.Warn("timer notification failed", "user", t.UserID, "error", err)
		}
		fired++
	}
	return fired
}
